package domain

import "time"

// Credential is the access credential held for the browsing session.
type Credential struct {
	AccessToken string
	ExpiresAt   *time.Time
	Role        *Role
}

// Profile is the authenticated operator as reported by the remote API.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
