package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

const roleKey = "auth_role"

// RequireCredential rejects local requests while no live credential is held,
// so the UI's route guard can redirect to login.
func RequireCredential(store *CredentialStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !store.IsAuthenticated(c.UserContext()) {
			return apperrors.NewUnauthenticated("login required")
		}
		if role, ok := store.Role(c.UserContext()); ok {
			c.Locals(roleKey, role)
		}
		return c.Next()
	}
}
