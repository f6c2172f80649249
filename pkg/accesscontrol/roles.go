// Package accesscontrol implements the Access Control component: users,
// roles, sessions, authentication, authorization checks, rate limiting,
// and audit logging (spec §4.3).
package accesscontrol

// Role is a closed set of role names (spec §4.3). User-defined roles are
// forbidden in v1.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleTenantAdmin  Role = "tenant_admin"
	RoleAgentManager Role = "agent_manager"
	RoleAnalyst      Role = "analyst"
	RoleOperator     Role = "operator"
	RoleViewer       Role = "viewer"
	RoleAPIUser      Role = "api_user"
)

// Permission is a closed set of permission tags (spec §4.3).
type Permission string

const (
	PermTenantRead   Permission = "tenant.read"
	PermTenantWrite  Permission = "tenant.write"
	PermUserManage   Permission = "user.manage"
	PermAgentSubmit  Permission = "agent.submit"
	PermAgentControl Permission = "agent.control"
	PermTaskViewOwn  Permission = "task.view.own"
	PermTaskViewAny  Permission = "task.view.any"
	PermCollabInit   Permission = "collab.initiate"
	PermInsightRead  Permission = "insight.read"
	PermCacheClear   Permission = "cache.clear"
	PermAuditRead    Permission = "audit.read"
)

// rolePermissions is the fixed role → permission-set mapping. This is part
// of the spec, not user data (spec §4.3): it is never loaded from
// persistence or made configurable per tenant.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleSuperAdmin: set(
		PermTenantRead, PermTenantWrite, PermUserManage, PermAgentSubmit,
		PermAgentControl, PermTaskViewOwn, PermTaskViewAny, PermCollabInit,
		PermInsightRead, PermCacheClear, PermAuditRead,
	),
	RoleTenantAdmin: set(
		PermTenantRead, PermUserManage, PermAgentSubmit, PermAgentControl,
		PermTaskViewOwn, PermTaskViewAny, PermCollabInit, PermInsightRead,
		PermCacheClear, PermAuditRead,
	),
	RoleAgentManager: set(
		PermAgentSubmit, PermAgentControl, PermTaskViewOwn, PermTaskViewAny,
		PermCollabInit, PermInsightRead,
	),
	RoleAnalyst: set(
		PermTaskViewAny, PermInsightRead, PermAuditRead,
	),
	RoleOperator: set(
		PermAgentSubmit, PermTaskViewOwn, PermCollabInit,
	),
	RoleViewer: set(
		PermTenantRead, PermTaskViewOwn, PermInsightRead,
	),
	RoleAPIUser: set(
		PermAgentSubmit, PermTaskViewOwn,
	),
}

func set(perms ...Permission) map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return m
}

// IsValidRole reports whether role is one of the closed set.
func IsValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission reports whether role carries the given permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = perms[perm]
	return ok
}
