package dto

// ActivityRequest reports operator activity and the UI's current location.
type ActivityRequest struct {
	Location string `json:"location"`
}

// SessionResponse is the UI's view of the session.
type SessionResponse struct {
	State           string `json:"state"`
	Authenticated   bool   `json:"authenticated"`
	Role            string `json:"role,omitempty"`
	IdleLeftSeconds int64  `json:"idle_left_seconds"`
	Redirect        string `json:"redirect,omitempty"`
}

// ThrottleResponse reports one throttle category.
type ThrottleResponse struct {
	Category       string `json:"category"`
	Max            int    `json:"max"`
	Count          int    `json:"count"`
	Remaining      int    `json:"remaining"`
	ResetInSeconds int64  `json:"reset_in_seconds"`
}
