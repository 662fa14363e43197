package identity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fmarques/failforward/internal/types"
)

// MockProvider is a mock implementation of the Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SignUpWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthUser), args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*AuthUser, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthUser), args.Error(1)
}

func (m *MockProvider) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*AuthUser, error) {
	args := m.Called(ctx, provider, providerUser)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthUser), args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) OnAuthStateChange(cb func(*AuthUser)) func() {
	args := m.Called(cb)
	return args.Get(0).(func())
}

// MockProfileStore is a mock implementation of the ProfileStore interface.
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Profile), args.Error(1)
}

func (m *MockProfileStore) CreateProfile(ctx context.Context, profile *types.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("CreatesDefaultProfile", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("SignUpWithPassword", ctx, "ana@example.com", "secret123").
			Return(&AuthUser{ID: "u1", Email: "ana@example.com"}, nil).Once()

		var created *types.Profile
		profiles.On("CreateProfile", ctx, mock.AnythingOfType("*types.Profile")).
			Run(func(args mock.Arguments) { created = args.Get(1).(*types.Profile) }).
			Return(nil).Once()

		sess, err := client.SignUp(ctx, "ana@example.com", "secret123", types.SignUpParams{})
		require.NoError(t, err)
		assert.True(t, sess.Authenticated)
		assert.Equal(t, "u1", sess.UserID)

		require.NotNil(t, created)
		assert.Equal(t, "u1", created.UserID)
		assert.Equal(t, "ana", created.DisplayName, "display name defaults to email local part")
		assert.Equal(t, 0, created.Reputation)
		assert.Empty(t, created.Badges)
		assert.Empty(t, created.Following)
		assert.Empty(t, created.Followers)
		provider.AssertExpectations(t)
		profiles.AssertExpectations(t)
	})

	t.Run("ExplicitDisplayName", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("SignUpWithPassword", ctx, "ana@example.com", "secret123").
			Return(&AuthUser{ID: "u1", Email: "ana@example.com"}, nil).Once()
		profiles.On("CreateProfile", ctx, mock.MatchedBy(func(p *types.Profile) bool {
			return p.DisplayName == "Ana Pereira" && p.Bio == "I break things"
		})).Return(nil).Once()

		_, err := client.SignUp(ctx, "ana@example.com", "secret123", types.SignUpParams{
			DisplayName: "Ana Pereira",
			Bio:         "I break things",
		})
		require.NoError(t, err)
		profiles.AssertExpectations(t)
	})

	t.Run("ProviderErrorPropagates", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("SignUpWithPassword", ctx, "ana@example.com", "short").
			Return(nil, &AuthError{Code: CodeWeakPassword, Message: "password should be at least 6 characters"}).Once()

		_, err := client.SignUp(ctx, "ana@example.com", "short", types.SignUpParams{})
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, CodeWeakPassword, authErr.Code)
		profiles.AssertNotCalled(t, "CreateProfile", mock.Anything, mock.Anything)
	})

	t.Run("ProfileWriteErrorPropagates", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("SignUpWithPassword", ctx, "ana@example.com", "secret123").
			Return(&AuthUser{ID: "u1", Email: "ana@example.com"}, nil).Once()
		profiles.On("CreateProfile", ctx, mock.Anything).Return(errors.New("write failed")).Once()

		_, err := client.SignUp(ctx, "ana@example.com", "secret123", types.SignUpParams{})
		assert.Error(t, err)
	})
}

func TestSignInFederated(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	gothUser := goth.User{
		Provider:  "google",
		Email:     "ana@example.com",
		Name:      "Ana Pereira",
		AvatarURL: "https://example.com/ana.png",
	}

	t.Run("FirstLoginCreatesProfile", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("GetOrCreateUserFromProvider", ctx, "google", gothUser).
			Return(&AuthUser{ID: "u1", Email: "ana@example.com", DisplayName: "Ana Pereira", AvatarURL: gothUser.AvatarURL}, nil).Once()
		profiles.On("GetProfile", ctx, "u1").Return(nil, nil).Once()
		profiles.On("CreateProfile", ctx, mock.MatchedBy(func(p *types.Profile) bool {
			return p.DisplayName == "Ana Pereira" && p.AvatarURL == gothUser.AvatarURL && p.Reputation == 0
		})).Return(nil).Once()

		sess, err := client.SignInFederated(ctx, "google", gothUser)
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		profiles.AssertExpectations(t)
	})

	t.Run("ExistingProfileUntouched", func(t *testing.T) {
		provider := new(MockProvider)
		profiles := new(MockProfileStore)
		client := NewClient(provider, profiles, logger)

		provider.On("GetOrCreateUserFromProvider", ctx, "google", gothUser).
			Return(&AuthUser{ID: "u1", Email: "ana@example.com"}, nil).Once()
		profiles.On("GetProfile", ctx, "u1").
			Return(&types.Profile{UserID: "u1", DisplayName: "Customized"}, nil).Once()

		_, err := client.SignInFederated(ctx, "google", gothUser)
		require.NoError(t, err)
		profiles.AssertNotCalled(t, "CreateProfile", mock.Anything, mock.Anything)
	})
}

func TestSignOutSwallowsErrors(t *testing.T) {
	provider := new(MockProvider)
	profiles := new(MockProfileStore)
	client := NewClient(provider, profiles, slog.Default())

	provider.On("SignOut", mock.Anything).Return(errors.New("provider unreachable")).Once()

	// Must not panic or surface the error.
	client.SignOut(context.Background())
	provider.AssertExpectations(t)
}

func TestOnSessionChangeWithMemoryProvider(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryProvider()
	profiles := new(MockProfileStore)
	profiles.On("CreateProfile", mock.Anything, mock.Anything).Return(nil)
	client := NewClient(provider, profiles, slog.Default())

	var seen []*types.Session
	unsubscribe := client.OnSessionChange(func(s *types.Session) {
		seen = append(seen, s)
	})
	defer unsubscribe()

	// Initial state is anonymous.
	require.Len(t, seen, 1)
	assert.Nil(t, seen[0])

	_, err := client.SignUp(ctx, "ana@example.com", "secret123", types.SignUpParams{})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.NotNil(t, seen[1])
	assert.Equal(t, "ana@example.com", seen[1].Email)

	client.SignOut(ctx)
	require.Len(t, seen, 3)
	assert.Nil(t, seen[2])
}

func TestSignUpNotificationWaitsForProfile(t *testing.T) {
	provider := NewMemoryProvider()
	profiles := new(MockProfileStore)
	var profileWritten bool
	profiles.On("CreateProfile", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { profileWritten = true }).Return(nil)
	client := NewClient(provider, profiles, slog.Default())

	var observed []bool
	unsubscribe := client.OnSessionChange(func(s *types.Session) {
		if s != nil {
			observed = append(observed, profileWritten)
		}
	})
	defer unsubscribe()

	_, err := client.SignUp(context.Background(), "ana@example.com", "secret123", types.SignUpParams{})
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.True(t, observed[0], "listener fires only after the profile write completed")
}

func TestFederatedNotificationWaitsForProfile(t *testing.T) {
	provider := NewMemoryProvider()
	profiles := new(MockProfileStore)
	var profileWritten bool
	profiles.On("GetProfile", mock.Anything, mock.Anything).Return(nil, nil)
	profiles.On("CreateProfile", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { profileWritten = true }).Return(nil)
	client := NewClient(provider, profiles, slog.Default())

	var observed []bool
	unsubscribe := client.OnSessionChange(func(s *types.Session) {
		if s != nil {
			observed = append(observed, profileWritten)
		}
	})
	defer unsubscribe()

	_, err := client.SignInFederated(context.Background(), "google", goth.User{
		Provider: "google",
		Email:    "ana@example.com",
		Name:     "Ana Pereira",
	})
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.True(t, observed[0], "first federated login notifies after the profile bootstrap")
}

func TestResubscribeReplacesListener(t *testing.T) {
	provider := NewMemoryProvider()

	var first, second int
	provider.OnAuthStateChange(func(*AuthUser) { first++ })
	provider.OnAuthStateChange(func(*AuthUser) { second++ })

	// Both saw the initial delivery; only the replacement sees transitions.
	_, err := provider.SignUpWithPassword(context.Background(), "ana@example.com", "secret123")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
