package rbac

// Roles carried in access tokens. Keep these stable; tokens issued by
// cmd/tokengen depend on them.
const (
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// Permission names one guarded area of the call-control API.
type Permission string

const (
	// PermCalls covers placing, listing, inspecting and ending calls and
	// appending transcript lines.
	PermCalls          Permission = "calls"
	PermStatusOverride Permission = "status_override"
	// PermTools covers phone validation and appointment submission.
	PermTools    Permission = "tools"
	PermSessions Permission = "sessions"
	PermAudit    Permission = "audit"
)

// grants lists what each non-admin role may do. Status overrides bypass
// provider webhooks, so only operators get them; session reporting comes
// from agent workers.
var grants = map[string][]Permission{
	RoleOperator: {PermCalls, PermStatusOverride, PermTools},
	RoleAgent:    {PermCalls, PermTools, PermSessions},
}

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnown(role string) bool {
	_, ok := grants[role]
	return ok || IsAdmin(role)
}

// Allows reports whether role holds perm. Admin holds every permission.
func Allows(role string, perm Permission) bool {
	if IsAdmin(role) {
		return true
	}
	for _, p := range grants[role] {
		if p == perm {
			return true
		}
	}
	return false
}
