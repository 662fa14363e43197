package types

// Session represents the authenticated identity of the current client
// process. At most one live session exists per process; a nil *Session
// means the process is anonymous.
type Session struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Authenticated bool   `json:"authenticated"`
}

// SignUpParams carries the optional profile seed data collected on the
// registration form.
type SignUpParams struct {
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
