package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/markbates/goth"

	"github.com/fmarques/failforward/internal/types"
)

// ProfileStore is the slice of the profile repository the client needs to
// bootstrap profiles at first authentication.
type ProfileStore interface {
	// GetProfile returns nil (without error) when no profile exists.
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
	CreateProfile(ctx context.Context, profile *types.Profile) error
}

// Client wraps the identity provider and owns profile bootstrap: a profile
// record is written exactly at sign-up or at the first federated login,
// never on later logins.
//
// The client re-dispatches the provider's auth-state notifications to its
// own session listener. During a bootstrapping flow the provider's
// notification is held back until the profile write has completed, so a
// listener that reacts by loading the profile finds it already present.
type Client struct {
	provider Provider
	profiles ProfileStore
	logger   *slog.Logger

	mu         sync.Mutex
	subscribed bool
	current    *types.Session
	listener   func(*types.Session)
	listenerID int
	deferring  bool
	pending    *types.Session
	hasPending bool
}

func NewClient(provider Provider, profiles ProfileStore, logger *slog.Logger) *Client {
	return &Client{provider: provider, profiles: profiles, logger: logger}
}

// SignUp registers a password account and creates the initial profile with
// default reputation and empty social sets. DisplayName falls back to the
// local part of the email when unspecified. The session-change
// notification is delivered after the profile write.
func (c *Client) SignUp(ctx context.Context, email, password string, params types.SignUpParams) (*types.Session, error) {
	c.deferNotifications()
	defer c.releaseNotifications()

	user, err := c.provider.SignUpWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	displayName := params.DisplayName
	if displayName == "" {
		displayName = emailLocalPart(email)
	}

	if err := c.profiles.CreateProfile(ctx, newProfile(user.ID, email, displayName, params.Bio, params.AvatarURL)); err != nil {
		return nil, fmt.Errorf("create initial profile: %w", err)
	}

	return sessionFor(user), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*types.Session, error) {
	user, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return sessionFor(user), nil
}

// SignInFederated completes a federated login. On the first login for the
// identity it creates the profile from the provider's name and avatar;
// on subsequent logins the existing profile is left untouched. The
// existence check and the write are not atomic: two concurrent first
// logins may both write, which is accepted as last-writer-wins.
func (c *Client) SignInFederated(ctx context.Context, providerName string, providerUser goth.User) (*types.Session, error) {
	c.deferNotifications()
	defer c.releaseNotifications()

	user, err := c.provider.GetOrCreateUserFromProvider(ctx, providerName, providerUser)
	if err != nil {
		return nil, err
	}

	existing, err := c.profiles.GetProfile(ctx, user.ID)
	if err == nil && existing == nil {
		displayName := user.DisplayName
		if displayName == "" {
			displayName = emailLocalPart(user.Email)
		}
		if err := c.profiles.CreateProfile(ctx, newProfile(user.ID, user.Email, displayName, "", user.AvatarURL)); err != nil {
			return nil, fmt.Errorf("create initial profile: %w", err)
		}
	}

	return sessionFor(user), nil
}

// SignOut tears down the provider session. Failures are reported to the
// operator log only; the caller never blocks on them.
func (c *Client) SignOut(ctx context.Context) {
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Sign-out failed", slog.Any("error", err))
	}
}

// OnSessionChange registers the session-change listener; at most one is
// active and re-registration replaces the previous one. The listener
// fires immediately with the current session state (nil when anonymous)
// and then once per transition.
func (c *Client) OnSessionChange(cb func(*types.Session)) func() {
	c.mu.Lock()
	c.listenerID++
	id := c.listenerID
	c.listener = cb
	needSubscribe := !c.subscribed
	c.subscribed = true
	current := c.current
	c.mu.Unlock()

	if needSubscribe {
		// The provider delivers the current state synchronously on
		// subscribe; onAuthState forwards it to the fresh listener.
		c.provider.OnAuthStateChange(c.onAuthState)
	} else {
		cb(current)
	}

	return func() {
		c.mu.Lock()
		if c.listenerID == id {
			c.listener = nil
		}
		c.mu.Unlock()
	}
}

// onAuthState is the single listener registered with the provider.
func (c *Client) onAuthState(u *AuthUser) {
	s := sessionFor(u)

	c.mu.Lock()
	c.current = s
	if c.deferring {
		c.pending = s
		c.hasPending = true
		c.mu.Unlock()
		return
	}
	cb := c.listener
	c.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// deferNotifications holds back auth-state deliveries while a profile
// bootstrap is in flight.
func (c *Client) deferNotifications() {
	c.mu.Lock()
	c.deferring = true
	c.hasPending = false
	c.mu.Unlock()
}

// releaseNotifications delivers the held-back transition, if any. It runs
// even when the bootstrap failed: the session itself is established and
// consumers handle a missing profile.
func (c *Client) releaseNotifications() {
	c.mu.Lock()
	c.deferring = false
	s := c.pending
	has := c.hasPending
	c.pending = nil
	c.hasPending = false
	cb := c.listener
	c.mu.Unlock()

	if has && cb != nil {
		cb(s)
	}
}

func sessionFor(u *AuthUser) *types.Session {
	if u == nil {
		return nil
	}
	return &types.Session{UserID: u.ID, Email: u.Email, Authenticated: true}
}

func newProfile(userID, email, displayName, bio, avatarURL string) *types.Profile {
	now := time.Now().UTC()
	return &types.Profile{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		Bio:         bio,
		AvatarURL:   avatarURL,
		Reputation:  0,
		Badges:      []string{},
		Following:   []string{},
		Followers:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func emailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
