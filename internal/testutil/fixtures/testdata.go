// Package fixtures provides shared test data for the stricklysoft-iam
// test suites: canonical role, department and resource names, and cached
// RSA signing keys.
package fixtures

// Directory and RBAC names used across credential, rbac and httpapi tests.
const (
	RoleAdmin   = "ADMIN"
	RoleUser    = "USER"
	RoleAuditor = "AUDITOR"

	DepartmentIT = "IT"
	DepartmentHR = "HR"

	ResourceComputerSystem = "ComputerSystem"

	Username = "jdoe"
	Password = "correct horse battery staple"
	UserID   = int64(42)

	Issuer = "https://iam.stricklysoft.test"
)

// LDAP fixtures for the directory-bind providers.
const (
	LDAPBaseDN    = "dc=stricklysoft,dc=test"
	LDAPUserDN    = "uid=jdoe,ou=people,dc=stricklysoft,dc=test"
	LDAPAdminsDN  = "cn=it-admins,ou=groups,dc=stricklysoft,dc=test"
	LDAPAdminsCN  = "it-admins"
	ADDomain      = "corp.stricklysoft.test"
	ADRootDN      = "DC=corp,DC=stricklysoft,DC=test"
	ADDomainAdmin = "CN=Domain Admins,CN=Users,DC=corp,DC=stricklysoft,DC=test"
)
