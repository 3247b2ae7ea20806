package domain

// Role enumerates back-office authorization roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// ParseRole returns the role named by s, or false when s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleEmployee:
		return Role(s), true
	default:
		return "", false
	}
}
