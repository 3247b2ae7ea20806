package domain

import "time"

// Notification is a transient user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Retryable bool      `json:"retryable"`
	CreatedAt time.Time `json:"created_at"`
}
