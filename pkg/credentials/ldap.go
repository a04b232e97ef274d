package credentials

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	"github.com/StricklySoft/stricklysoft-iam/pkg/config"
)

// Conn is the subset of *ldap.Conn the directory providers use.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Dialer opens a connection to an LDAP URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// NetDialer dials with go-ldap, bounded by timeout and ctx.
func NetDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		d := timeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < d || d <= 0 {
				d = remaining
			}
		}
		c, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: d}))
		if err != nil {
			return nil, err
		}
		if d > 0 {
			c.SetTimeout(d)
		}
		return ldapConn{c}, nil
	}
}

type ldapConn struct{ *ldap.Conn }

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// LDAPConfig describes one LDAP directory. URLs are tried in order until
// one accepts a connection. In the filters, {0} is replaced with the
// escaped username (user filter) or user DN (group filter), and {1} with
// the escaped username.
type LDAPConfig struct {
	Name                string        `yaml:"name" json:"name"`
	URLs                []string      `yaml:"urls" json:"urls"`
	BindDN              string        `yaml:"bind_dn" json:"bind_dn"`
	BindPassword        config.Secret `yaml:"bind_password" json:"-"`
	UserBaseDN          string        `yaml:"user_base_dn" json:"user_base_dn"`
	UserFilter          string        `yaml:"user_filter" json:"user_filter"`
	GroupBaseDN         string        `yaml:"group_base_dn" json:"group_base_dn"`
	GroupFilter         string        `yaml:"group_filter" json:"group_filter"`
	GroupNameAttribute  string        `yaml:"group_name_attribute" json:"group_name_attribute"`
	DepartmentAttribute string        `yaml:"department_attribute" json:"department_attribute"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
}

func (c *LDAPConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "ldap"
	}
	if c.UserFilter == "" {
		c.UserFilter = "(uid={0})"
	}
	if c.GroupFilter == "" {
		c.GroupFilter = "(member={0})"
	}
	if c.GroupBaseDN == "" {
		c.GroupBaseDN = c.UserBaseDN
	}
	if c.GroupNameAttribute == "" {
		c.GroupNameAttribute = "cn"
	}
	if c.DepartmentAttribute == "" {
		c.DepartmentAttribute = "departmentNumber"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// LDAPProvider authenticates by search-then-bind against an LDAP
// directory and maps group membership to roles.
type LDAPProvider struct {
	cfg    LDAPConfig
	dial   Dialer
	mapper *GroupRoleMapper
}

// NewLDAPProvider returns a provider for cfg. A nil dial uses [NetDialer].
func NewLDAPProvider(cfg LDAPConfig, mapper *GroupRoleMapper, dial Dialer) *LDAPProvider {
	cfg.applyDefaults()
	if dial == nil {
		dial = NetDialer(cfg.Timeout)
	}
	if mapper == nil {
		mapper = NewGroupRoleMapper(nil, "")
	}
	return &LDAPProvider{cfg: cfg, dial: dial, mapper: mapper}
}

func (p *LDAPProvider) Name() string { return p.cfg.Name }

func (p *LDAPProvider) Supports(kind Kind) bool { return kind == KindPassword }

func (p *LDAPProvider) Authenticate(ctx context.Context, cred Credential) (*auth.Principal, error) {
	if err := requirePassword(cred); err != nil {
		return nil, err
	}
	conn, err := dialAny(ctx, p.dial, p.cfg.URLs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := p.serviceBind(conn); err != nil {
		return nil, err
	}

	entry, err := searchOne(conn, p.cfg.UserBaseDN,
		expandFilter(p.cfg.UserFilter, ldap.EscapeFilter(cred.Username), ldap.EscapeFilter(cred.Username)),
		[]string{p.cfg.DepartmentAttribute})
	if err != nil {
		return nil, err
	}

	if err := conn.Bind(entry.DN, cred.Password.Value()); err != nil {
		return nil, fmt.Errorf("%w: bind as user: %v", errInvalid, err)
	}

	// Group lookups run with the service account when one is configured.
	if err := p.serviceBind(conn); err != nil {
		return nil, err
	}
	groups, err := p.groups(conn, entry.DN, cred.Username)
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		Name:       cred.Username,
		Roles:      p.mapper.Map(groups),
		Department: entry.GetAttributeValue(p.cfg.DepartmentAttribute),
	}, nil
}

func (p *LDAPProvider) serviceBind(conn Conn) error {
	if p.cfg.BindDN == "" {
		return nil
	}
	if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword.Value()); err != nil {
		return fmt.Errorf("credentials: service bind as %s: %w", p.cfg.BindDN, err)
	}
	return nil
}

func (p *LDAPProvider) groups(conn Conn, userDN, username string) ([]string, error) {
	if p.cfg.GroupBaseDN == "" {
		return nil, nil
	}
	res, err := conn.Search(ldap.NewSearchRequest(
		p.cfg.GroupBaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		expandFilter(p.cfg.GroupFilter, ldap.EscapeFilter(userDN), ldap.EscapeFilter(username)),
		[]string{p.cfg.GroupNameAttribute}, nil,
	))
	if err != nil {
		return nil, fmt.Errorf("credentials: group search: %w", err)
	}
	var groups []string
	for _, e := range res.Entries {
		groups = append(groups, e.GetAttributeValues(p.cfg.GroupNameAttribute)...)
	}
	return groups, nil
}

// requirePassword rejects empty input before any bind: LDAP treats a bind
// with an empty password as an anonymous bind that succeeds.
func requirePassword(cred Credential) error {
	if cred.Kind != KindPassword {
		return ErrNotApplicable
	}
	if strings.TrimSpace(cred.Username) == "" || cred.Password.IsZero() {
		return fmt.Errorf("%w: empty username or password", errInvalid)
	}
	return nil
}

func dialAny(ctx context.Context, dial Dialer, urls []string) (Conn, error) {
	if len(urls) == 0 {
		return nil, errors.New("credentials: no directory URL configured")
	}
	var errs []error
	for _, u := range urls {
		conn, err := dial(ctx, u)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", u, err))
	}
	return nil, fmt.Errorf("credentials: no directory reachable: %w", errors.Join(errs...))
}

func searchOne(conn Conn, baseDN, filter string, attrs []string) (*ldap.Entry, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		filter, attrs, nil,
	))
	if err != nil {
		return nil, fmt.Errorf("credentials: user search: %w", err)
	}
	switch len(res.Entries) {
	case 0:
		return nil, fmt.Errorf("%w: user not found", errInvalid)
	case 1:
		return res.Entries[0], nil
	default:
		return nil, fmt.Errorf("%w: user filter matched %d entries", errInvalid, len(res.Entries))
	}
}

func expandFilter(filter, zero, one string) string {
	return strings.NewReplacer("{0}", zero, "{1}", one).Replace(filter)
}
