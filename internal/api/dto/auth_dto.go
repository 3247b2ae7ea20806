package dto

import "time"

// LoginRequest payload for operator login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest payload for a new operator account.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordResetRequest payload for requesting a reset link.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// ConfirmEmailRequest payload carrying an email confirmation token.
type ConfirmEmailRequest struct {
	Token string `json:"token"`
}

// AuthResponse describes the session after login. The credential itself
// never leaves the agent.
type AuthResponse struct {
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
