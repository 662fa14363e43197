package identity

import (
	"context"
	"sync"

	"github.com/markbates/goth"
)

// Provider is the identity-provider contract the client is written
// against. Implementations own the process-local auth state: every
// successful sign-in/up and every sign-out flips the state and notifies
// the registered listener.
type Provider interface {
	SignUpWithPassword(ctx context.Context, email, password string) (*AuthUser, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthUser, error)

	// GetOrCreateUserFromProvider completes a federated sign-in for the
	// given provider profile, creating the account on first login.
	GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*AuthUser, error)

	SignOut(ctx context.Context) error

	// OnAuthStateChange registers the auth-state listener. At most one
	// listener is active; registering again replaces the previous one.
	// The listener fires immediately with the current state (nil when
	// anonymous) and then once per transition. The returned function
	// removes the listener.
	OnAuthStateChange(cb func(*AuthUser)) func()
}

// authState is the shared listener/notification machinery embedded by
// provider implementations.
type authState struct {
	mu         sync.Mutex
	current    *AuthUser
	listener   func(*AuthUser)
	listenerID int
}

func (s *authState) setCurrent(u *AuthUser) {
	s.mu.Lock()
	s.current = u
	cb := s.listener
	s.mu.Unlock()

	if cb != nil {
		cb(u)
	}
}

func (s *authState) register(cb func(*AuthUser)) func() {
	s.mu.Lock()
	s.listenerID++
	id := s.listenerID
	s.listener = cb
	current := s.current
	s.mu.Unlock()

	// Initial state delivery, matching the provider contract.
	cb(current)

	return func() {
		s.mu.Lock()
		if s.listenerID == id {
			s.listener = nil
		}
		s.mu.Unlock()
	}
}
