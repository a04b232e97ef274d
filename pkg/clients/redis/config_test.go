package redis

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-iam/internal/testutil"
	"github.com/StricklySoft/stricklysoft-iam/pkg/config"
)

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Host: "cache"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)

	def := DefaultConfig()
	require.NoError(t, def.Validate())
	assert.Equal(t, DefaultHost, def.Host)
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad scheme", Config{URI: "http://cache:6379"}, "scheme"},
		{"port", Config{Host: "cache", Port: 70000}, "port"},
		{"negative db", Config{Host: "cache", DB: -1}, "db"},
		{"pool below idle", Config{Host: "cache", PoolSize: 2, MinIdleConns: 5}, "pool_size"},
		{"negative idle", Config{Host: "cache", MinIdleConns: -1}, "min_idle_conns"},
		{"negative timeout", Config{Host: "cache", ReadTimeout: -time.Second}, "timeouts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Configured(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Config{}).Configured())
	assert.True(t, (&Config{Host: "cache"}).Configured())
	assert.True(t, (&Config{URI: "rediss://cache:6380"}).Configured())
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	uri := Config{URI: "redis://:pw@cache:6380/3"}
	require.NoError(t, uri.Validate())
	opts, err := uri.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, DefaultPoolSize, opts.PoolSize)

	structured := Config{Host: "cache", Password: config.Secret("s3cret"), TLSEnabled: true}
	require.NoError(t, structured.Validate())
	opts, err = structured.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	require.NotNil(t, opts.TLSConfig)

	assert.NotContains(t, fmt.Sprintf("%+v", structured), "s3cret")
	testutil.AssertJSONNotContains(t, structured, "s3cret")
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PING", truncateStatement("PING"))
	long := strings.Repeat("é", maxStatementTruncateLen+5)
	got := truncateStatement(long)
	assert.Equal(t, strings.Repeat("é", maxStatementTruncateLen)+"...", got)
}
