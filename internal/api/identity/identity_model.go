package identity

// AuthError codes mirror the provider's error vocabulary. The Message is
// the literal provider-supplied text and is what the UI shows the user.
const (
	CodeInvalidCredentials = "invalid-credentials"
	CodeEmailAlreadyInUse  = "email-already-in-use"
	CodeWeakPassword       = "weak-password"
	CodeNetwork            = "network-request-failed"
)

// AuthError is an authentication failure surfaced to the caller.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func invalidCredentials() *AuthError {
	return &AuthError{Code: CodeInvalidCredentials, Message: "invalid email or password"}
}

// AuthUser is the provider's view of an authenticated account.
type AuthUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
