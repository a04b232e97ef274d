package credentials

import (
	"slices"
	"strings"
)

// DefaultRole is assigned when no directory group maps to a role.
const DefaultRole = "USER"

// GroupRoleMapper maps directory group names to role names. Group names
// match case-insensitively.
type GroupRoleMapper struct {
	roles       map[string]string
	defaultRole string
}

// NewGroupRoleMapper builds a mapper from group name to role name. An
// empty defaultRole becomes [DefaultRole].
func NewGroupRoleMapper(groupRoles map[string]string, defaultRole string) *GroupRoleMapper {
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	m := &GroupRoleMapper{roles: make(map[string]string, len(groupRoles)), defaultRole: defaultRole}
	for group, role := range groupRoles {
		m.roles[strings.ToLower(strings.TrimSpace(group))] = strings.TrimSpace(role)
	}
	return m
}

// Map returns the sorted, de-duplicated roles for groups, or the default
// role when none match.
func (m *GroupRoleMapper) Map(groups []string) []string {
	var roles []string
	for _, g := range groups {
		if role, ok := m.roles[strings.ToLower(strings.TrimSpace(g))]; ok && role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return []string{m.defaultRole}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}
