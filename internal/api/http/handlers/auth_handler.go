package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/api/dto"
	"github.com/spec-kit/sorting-kiosk/internal/auth"
	"github.com/spec-kit/sorting-kiosk/internal/service"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// AuthHandler exposes operator login and account flows to the kiosk UI.
type AuthHandler struct {
	auth  *service.AuthService
	creds *auth.CredentialStore
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, creds *auth.CredentialStore) *AuthHandler {
	return &AuthHandler{auth: authService, creds: creds}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("", "invalid payload")
	}

	profile, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	resp := dto.AuthResponse{
		UserID: profile.ID,
		Name:   profile.Name,
		Email:  profile.Email,
		Role:   string(profile.Role),
	}
	if cred, ok := h.creds.Current(c.UserContext()); ok {
		resp.ExpiresAt = cred.ExpiresAt
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("", "invalid payload")
	}
	if req.Name == "" || req.Password == "" {
		return apperrors.NewValidationError("", "name, email, password required")
	}
	err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

// RequestPasswordReset handles POST /auth/password/reset.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return apperrors.NewValidationError("email", "email required")
	}
	if err := h.auth.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

// ConfirmEmail handles POST /auth/email/confirm.
func (h *AuthHandler) ConfirmEmail(c *fiber.Ctx) error {
	var req dto.ConfirmEmailRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return apperrors.NewValidationError("token", "token required")
	}
	if err := h.auth.ConfirmEmail(c.UserContext(), req.Token); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
