package profile

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmarques/failforward/internal/docstore/memstore"
	"github.com/fmarques/failforward/internal/types"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(memstore.New(slog.Default()), slog.Default())
}

func TestGetProfileMissing(t *testing.T) {
	repo := newTestRepo(t)

	p, err := repo.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p, "missing profile reads as nil, not an error")
}

func TestCreateAndGetProfile(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.CreateProfile(ctx, &types.Profile{
		UserID:      "u1",
		Email:       "ana@example.com",
		DisplayName: "ana",
		Badges:      []string{},
		Following:   []string{},
		Followers:   []string{},
	})
	require.NoError(t, err)

	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ana", p.DisplayName)
	assert.Equal(t, 0, p.Reputation)
	assert.False(t, p.CreatedAt.IsZero(), "create stamps createdAt server-side")
}

func TestUpsertProfileMergesOnlyProvidedFields(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateProfile(ctx, &types.Profile{
		UserID:      "u1",
		Email:       "ana@example.com",
		DisplayName: "ana",
		Bio:         "original bio",
	}))

	bio := "updated bio"
	require.NoError(t, repo.UpsertProfile(ctx, "u1", types.UpdateProfileParams{Bio: &bio}))

	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "updated bio", p.Bio)
	assert.Equal(t, "ana", p.DisplayName, "unset fields survive the merge")
	assert.Equal(t, "ana@example.com", p.Email)
}

func TestUpsertInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateProfile(ctx, &types.Profile{UserID: "u1", DisplayName: "before"}))

	// Prime the cache.
	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "before", p.DisplayName)

	name := "after"
	require.NoError(t, repo.UpsertProfile(ctx, "u1", types.UpdateProfileParams{DisplayName: &name}))

	p, err = repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "after", p.DisplayName)
}
