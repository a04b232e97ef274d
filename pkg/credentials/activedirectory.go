package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
)

// ActiveDirectoryConfig describes an Active Directory domain. RootDN is
// derived from Domain when empty ("corp.example.com" becomes
// "DC=corp,DC=example,DC=com").
type ActiveDirectoryConfig struct {
	Domain              string        `env:"DOMAIN" yaml:"domain" json:"domain"`
	URLs                []string      `env:"URLS" yaml:"urls" json:"urls"`
	RootDN              string        `env:"ROOT_DN" yaml:"root_dn" json:"root_dn"`
	DepartmentAttribute string        `env:"DEPARTMENT_ATTRIBUTE" envDefault:"department" yaml:"department_attribute" json:"department_attribute"`
	Timeout             time.Duration `env:"TIMEOUT" envDefault:"5s" yaml:"timeout" json:"timeout"`
}

// Enabled reports whether a domain and at least one URL are configured.
func (c ActiveDirectoryConfig) Enabled() bool {
	return c.Domain != "" && len(c.URLs) > 0
}

// ActiveDirectoryProvider binds as user@domain and reads group membership
// from memberOf.
type ActiveDirectoryProvider struct {
	cfg    ActiveDirectoryConfig
	dial   Dialer
	mapper *GroupRoleMapper
}

// NewActiveDirectoryProvider returns a provider for cfg. A nil dial uses
// [NetDialer].
func NewActiveDirectoryProvider(cfg ActiveDirectoryConfig, mapper *GroupRoleMapper, dial Dialer) *ActiveDirectoryProvider {
	cfg.Domain = strings.ToLower(strings.TrimSpace(cfg.Domain))
	if cfg.RootDN == "" {
		cfg.RootDN = RootDNFromDomain(cfg.Domain)
	}
	if cfg.DepartmentAttribute == "" {
		cfg.DepartmentAttribute = "department"
	}
	if dial == nil {
		dial = NetDialer(cfg.Timeout)
	}
	if mapper == nil {
		mapper = NewGroupRoleMapper(nil, "")
	}
	return &ActiveDirectoryProvider{cfg: cfg, dial: dial, mapper: mapper}
}

func (p *ActiveDirectoryProvider) Name() string { return "active-directory" }

func (p *ActiveDirectoryProvider) Supports(kind Kind) bool { return kind == KindPassword }

func (p *ActiveDirectoryProvider) Authenticate(ctx context.Context, cred Credential) (*auth.Principal, error) {
	if err := requirePassword(cred); err != nil {
		return nil, err
	}
	upn, ok := p.userPrincipalName(cred.Username)
	if !ok {
		return nil, ErrNotApplicable
	}

	conn, err := dialAny(ctx, p.dial, p.cfg.URLs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Bind(upn, cred.Password.Value()); err != nil {
		return nil, fmt.Errorf("%w: bind as %s: %v", errInvalid, upn, err)
	}

	entry, err := searchOne(conn, p.cfg.RootDN,
		fmt.Sprintf("(&(objectClass=user)(userPrincipalName=%s))", ldap.EscapeFilter(upn)),
		[]string{"memberOf", p.cfg.DepartmentAttribute})
	if err != nil {
		return nil, err
	}

	return &auth.Principal{
		Name:       upn,
		Roles:      p.mapper.Map(groupNames(entry.GetAttributeValues("memberOf"))),
		Department: entry.GetAttributeValue(p.cfg.DepartmentAttribute),
	}, nil
}

// userPrincipalName normalises "user", "user@domain" and "DOMAIN\user" to
// "user@domain". It returns false for users of another domain.
func (p *ActiveDirectoryProvider) userPrincipalName(username string) (string, bool) {
	username = strings.TrimSpace(username)
	if netbios, user, ok := strings.Cut(username, `\`); ok {
		label, _, _ := strings.Cut(p.cfg.Domain, ".")
		if !strings.EqualFold(netbios, label) || user == "" {
			return "", false
		}
		return user + "@" + p.cfg.Domain, true
	}
	if user, domain, ok := strings.Cut(username, "@"); ok {
		if !strings.EqualFold(domain, p.cfg.Domain) || user == "" {
			return "", false
		}
		return user + "@" + p.cfg.Domain, true
	}
	return username + "@" + p.cfg.Domain, true
}

// RootDNFromDomain turns a DNS domain into its DC= root DN.
func RootDNFromDomain(domain string) string {
	if domain == "" {
		return ""
	}
	labels := strings.Split(domain, ".")
	for i, l := range labels {
		labels[i] = "DC=" + l
	}
	return strings.Join(labels, ",")
}

// groupNames returns the CN of each group DN; unparsable DNs are skipped.
func groupNames(dns []string) []string {
	var names []string
	for _, raw := range dns {
		dn, err := ldap.ParseDN(raw)
		if err != nil || len(dn.RDNs) == 0 {
			continue
		}
		for _, attr := range dn.RDNs[0].Attributes {
			if strings.EqualFold(attr.Type, "CN") {
				names = append(names, attr.Value)
			}
		}
	}
	return names
}
