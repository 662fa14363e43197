package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmarques/failforward/internal/api/identity"
	"github.com/fmarques/failforward/internal/api/profile"
	"github.com/fmarques/failforward/internal/docstore/memstore"
	"github.com/fmarques/failforward/internal/types"
)

// fakeIdentity replays auth state transitions synchronously, the way
// the in-process providers do.
type fakeIdentity struct {
	listener func(*types.Session)
	initial  *types.Session
}

func (f *fakeIdentity) OnSessionChange(cb func(*types.Session)) func() {
	f.listener = cb
	cb(f.initial)
	return func() { f.listener = nil }
}

func (f *fakeIdentity) emit(s *types.Session) {
	if f.listener != nil {
		f.listener(s)
	}
}

type fakeProfiles struct {
	byID map[string]*types.Profile
	err  error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[userID], nil
}

func TestContextInitialAnonymous(t *testing.T) {
	ident := &fakeIdentity{}
	c := NewContext(ident, &fakeProfiles{}, slog.Default())
	defer c.Close()

	snap := c.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
}

func TestContextInitialAuthenticated(t *testing.T) {
	ident := &fakeIdentity{initial: &types.Session{UserID: "u1", Email: "ana@example.com", Authenticated: true}}
	profiles := &fakeProfiles{byID: map[string]*types.Profile{
		"u1": {UserID: "u1", DisplayName: "ana"},
	}}
	c := NewContext(ident, profiles, slog.Default())
	defer c.Close()

	snap := c.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "ana@example.com", snap.Session.Email)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "ana", snap.Profile.DisplayName)
}

func TestContextTransitions(t *testing.T) {
	ident := &fakeIdentity{}
	c := NewContext(ident, &fakeProfiles{}, slog.Default())
	defer c.Close()

	ident.emit(&types.Session{UserID: "u1", Email: "ana@example.com", Authenticated: true})
	assert.Equal(t, StateAuthenticated, c.Snapshot().State)

	ident.emit(nil)
	snap := c.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Session)
}

func TestContextLoadsProfileAfterSignUp(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(slog.Default())
	repo := profile.NewRepository(store, slog.Default())
	client := identity.NewClient(identity.NewMemoryProvider(), repo, slog.Default())

	c := NewContext(client, repo, slog.Default())
	defer c.Close()

	_, err := client.SignUp(ctx, "ana@example.com", "secret123", types.SignUpParams{})
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.Profile, "profile created at sign-up is visible to the session")
	assert.Equal(t, "ana", snap.Profile.DisplayName)
}

func TestContextProfileErrorStillAuthenticated(t *testing.T) {
	ident := &fakeIdentity{initial: &types.Session{UserID: "u1", Email: "ana@example.com", Authenticated: true}}
	c := NewContext(ident, &fakeProfiles{err: errors.New("store down")}, slog.Default())
	defer c.Close()

	snap := c.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State, "profile failures never block the session")
	assert.Nil(t, snap.Profile)
}

func TestContextUpdatesCoalesce(t *testing.T) {
	ident := &fakeIdentity{}
	c := NewContext(ident, &fakeProfiles{}, slog.Default())
	defer c.Close()

	// No consumer between these, so only the last one survives.
	ident.emit(&types.Session{UserID: "u1", Authenticated: true})
	ident.emit(nil)
	ident.emit(&types.Session{UserID: "u2", Authenticated: true})

	snap := <-c.Updates()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "u2", snap.Session.UserID)

	select {
	case extra := <-c.Updates():
		t.Fatalf("unexpected stacked update: %+v", extra)
	default:
	}
}

func TestContextCloseDetaches(t *testing.T) {
	ident := &fakeIdentity{}
	c := NewContext(ident, &fakeProfiles{}, slog.Default())

	c.Close()
	assert.Nil(t, ident.listener)

	// Idempotent.
	c.Close()
}
