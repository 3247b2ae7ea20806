package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// RequireRole ensures the cached role is one of allowed. It must run after
// RequireCredential.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		role, ok := RoleFromContext(c)
		if !ok {
			return apperrors.NewForbidden("role unknown")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RoleFromContext retrieves the role stored by RequireCredential.
func RoleFromContext(c *fiber.Ctx) (domain.Role, bool) {
	val := c.Locals(roleKey)
	if val == nil {
		return "", false
	}
	role, ok := val.(domain.Role)
	return role, ok
}
