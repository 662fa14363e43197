package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fmarques/failforward/internal/docstore"
	"github.com/fmarques/failforward/internal/types"
)

const usersCollection = "users"

// Repository reads and writes user profiles through the document store.
// Reads are best-effort: a missing document and a failed lookup both
// come back as a nil profile so callers can render an anonymous view
// instead of failing the whole request.
type Repository struct {
	store  docstore.Store
	cache  *cache.Cache
	logger *slog.Logger
}

func NewRepository(store docstore.Store, logger *slog.Logger) *Repository {
	return &Repository{
		store:  store,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
		logger: logger,
	}
}

// GetProfile returns the profile for userID, or nil when the document
// does not exist. Store errors are logged and also surface as nil.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	ctx, span := otel.Tracer("ProfileRepo").Start(ctx, "GetProfile", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	if cached, found := r.cache.Get(userID); found {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached.(*types.Profile), nil
	}

	doc, err := r.store.GetDocument(ctx, usersCollection, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile lookup failed")
		r.logger.WarnContext(ctx, "profile lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, nil
	}

	var p types.Profile
	if err := doc.Decode(&p); err != nil {
		span.RecordError(err)
		r.logger.WarnContext(ctx, "profile decode failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, nil
	}
	r.cache.Set(userID, &p, cache.DefaultExpiration)
	return &p, nil
}

// CreateProfile writes a full profile document, replacing any prior one.
func (r *Repository) CreateProfile(ctx context.Context, p *types.Profile) error {
	ctx, span := otel.Tracer("ProfileRepo").Start(ctx, "CreateProfile", trace.WithAttributes(
		attribute.String("user.id", p.UserID),
	))
	defer span.End()

	fields, err := profileFields(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	fields["createdAt"] = docstore.ServerTimestamp
	fields["updatedAt"] = docstore.ServerTimestamp

	if err := r.store.SetDocument(ctx, usersCollection, p.UserID, fields, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile create failed")
		return fmt.Errorf("create profile: %w", err)
	}
	r.cache.Delete(p.UserID)
	return nil
}

// UpsertProfile merge-writes only the fields present in params and
// refreshes the update timestamp.
func (r *Repository) UpsertProfile(ctx context.Context, userID string, params types.UpdateProfileParams) error {
	ctx, span := otel.Tracer("ProfileRepo").Start(ctx, "UpsertProfile", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	fields := map[string]any{"updatedAt": docstore.ServerTimestamp}
	if params.DisplayName != nil {
		fields["displayName"] = *params.DisplayName
	}
	if params.Bio != nil {
		fields["bio"] = *params.Bio
	}
	if params.AvatarURL != nil {
		fields["avatarUrl"] = *params.AvatarURL
	}

	if err := r.store.SetDocument(ctx, usersCollection, userID, fields, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile upsert failed")
		return fmt.Errorf("upsert profile: %w", err)
	}
	r.cache.Delete(userID)
	return nil
}

func profileFields(p *types.Profile) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
