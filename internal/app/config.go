package app

import (
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-iam/internal/httpapi"
	"github.com/StricklySoft/stricklysoft-iam/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-iam/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-iam/pkg/config"
	"github.com/StricklySoft/stricklysoft-iam/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-iam/pkg/errors"
	"github.com/StricklySoft/stricklysoft-iam/pkg/keys"
	"github.com/StricklySoft/stricklysoft-iam/pkg/token"
)

// EnvPrefix prefixes every environment variable the daemon reads.
const EnvPrefix = "IAM"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the daemon configuration. Env names are shown without the
// IAM_ prefix.
type Config struct {
	Name    string `env:"SERVICE_NAME" envDefault:"iamd" yaml:"name" json:"name"`
	Version string `env:"SERVICE_VERSION" envDefault:"dev" yaml:"version" json:"version"`

	HTTP HTTPConfig `env:"HTTP" yaml:"http" json:"http"`
	GRPC GRPCConfig `env:"GRPC" yaml:"grpc" json:"grpc"`

	Keys  keys.Config  `env:"KEYS" yaml:"keys" json:"keys"`
	Token token.Config `env:"TOKEN" yaml:"token" json:"token"`

	// InsecureMode lets the service start without a signing key. Every
	// non-empty bearer is then accepted.
	InsecureMode bool `env:"INSECURE_MODE" yaml:"insecure_mode" json:"insecure_mode"`

	// LDAP endpoints are tried in order. They are configured from the file
	// only.
	LDAP            []credentials.LDAPConfig          `yaml:"ldap" json:"ldap"`
	ActiveDirectory credentials.ActiveDirectoryConfig `env:"AD" yaml:"active_directory" json:"active_directory"`
	Local           LocalConfig                       `env:"LOCAL" yaml:"local" json:"local"`

	GroupRoles  map[string]string `env:"GROUP_ROLES" yaml:"group_roles" json:"group_roles"`
	DefaultRole string            `env:"DEFAULT_ROLE" envDefault:"USER" yaml:"default_role" json:"default_role"`

	API httpapi.Config `env:"API" yaml:"api" json:"api"`

	Storage StorageConfig `env:"STORAGE" yaml:"storage" json:"storage"`
	Redis   redis.Config  `env:"REDIS" yaml:"redis" json:"redis"`
	RBAC    RBACConfig    `env:"RBAC" yaml:"rbac" json:"rbac"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr              string        `env:"ADDR" envDefault:":8080" yaml:"addr" json:"addr"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s" yaml:"read_header_timeout" json:"read_header_timeout"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s" yaml:"idle_timeout" json:"idle_timeout"`
}

// GRPCConfig configures the optional gRPC listener. An empty Addr
// disables it.
type GRPCConfig struct {
	Addr string `env:"ADDR" yaml:"addr" json:"addr"`
}

// LocalConfig configures the local user provider and its bootstrap admin.
type LocalConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true" yaml:"enabled" json:"enabled"`

	// BootstrapAdmin is created at startup when no user of that name
	// exists. Both username and password must be set.
	BootstrapAdmin         string        `env:"BOOTSTRAP_ADMIN" yaml:"bootstrap_admin" json:"bootstrap_admin"`
	BootstrapAdminPassword config.Secret `env:"BOOTSTRAP_ADMIN_PASSWORD" yaml:"bootstrap_admin_password" json:"-"`
	BcryptCost             int           `env:"BCRYPT_COST" yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver   string          `env:"DRIVER" envDefault:"memory" yaml:"driver" json:"driver"`
	Postgres postgres.Config `env:"POSTGRES" yaml:"postgres" json:"postgres"`
}

// RBACConfig tunes permission administration.
type RBACConfig struct {
	ReloadOnWrite bool   `env:"RELOAD_ON_WRITE" envDefault:"true" yaml:"reload_on_write" json:"reload_on_write"`
	ReloadChannel string `env:"RELOAD_CHANNEL" yaml:"reload_channel" json:"reload_channel"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return sserr.Validationf("storage.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Storage.Driver).
			WithDetail("field", "storage.driver")
	}
	if (c.Local.BootstrapAdmin == "") != c.Local.BootstrapAdminPassword.IsZero() {
		return sserr.Validation("local.bootstrap_admin and local.bootstrap_admin_password must be set together").
			WithDetail("field", "local.bootstrap_admin")
	}
	if c.ShutdownTimeout <= 0 {
		return sserr.Validation("shutdown_timeout must be positive").WithDetail("field", "shutdown_timeout")
	}
	c.Token.InsecureMode = c.InsecureMode
	return c.Token.Validate()
}

// Load reads the configuration from path (optional) and the IAM_ env.
func Load(path string) (Config, error) {
	return load(config.New().WithEnvPrefix(EnvPrefix).WithFile(path))
}

func load(loader *config.Loader) (Config, error) {
	var cfg Config
	if err := loader.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
