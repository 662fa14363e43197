// Package container wires the application graph: document store,
// identity provider, session context, dashboard service and their
// handlers, selected by configuration.
package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gorilla/sessions"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"

	database "github.com/fmarques/failforward/app/db"
	"github.com/fmarques/failforward/config"
	"github.com/fmarques/failforward/internal/api/dashboard"
	"github.com/fmarques/failforward/internal/api/identity"
	"github.com/fmarques/failforward/internal/api/profile"
	"github.com/fmarques/failforward/internal/api/session"
	"github.com/fmarques/failforward/internal/docstore"
	"github.com/fmarques/failforward/internal/docstore/memstore"
	"github.com/fmarques/failforward/internal/docstore/pgstore"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	Store            docstore.Store
	IdentityClient   *identity.Client
	SessionContext   *session.Context
	DashboardService *dashboard.Service

	IdentityHandler  *identity.HandlerImpl
	SessionHandler   *session.HandlerImpl
	ProfileHandler   *profile.HandlerImpl
	DashboardHandler *dashboard.HandlerImpl

	stopFollow context.CancelFunc
}

// NewContainer initializes the dependency graph. The "memory" store
// mode runs fully in-process; "postgres" brings up the pgx pool and
// the LISTEN/NOTIFY-backed store.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	var (
		store    docstore.Store
		provider identity.Provider
	)
	switch cfg.Repositories.Store {
	case "postgres":
		dbConfig, err := database.NewDatabaseConfig(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("database config: %w", err)
		}
		pool, err := database.Init(dbConfig.ConnectionURL, logger)
		if err != nil {
			return nil, fmt.Errorf("database pool: %w", err)
		}
		c.Pool = pool
		store = pgstore.New(pool, logger)
		provider = identity.NewLocalProvider(pool, logger)
	case "memory", "":
		store = memstore.New(logger)
		provider = identity.NewMemoryProvider()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Repositories.Store)
	}
	c.Store = store

	profileRepo := profile.NewRepository(store, logger)
	c.IdentityClient = identity.NewClient(provider, profileRepo, logger)
	c.SessionContext = session.NewContext(c.IdentityClient, profileRepo, logger)
	c.DashboardService = dashboard.NewService(store, logger)

	if cfg.OAuth.Google.Key != "" {
		goth.UseProviders(google.New(cfg.OAuth.Google.Key, cfg.OAuth.Google.Secret, cfg.OAuth.Google.CallbackURL))
		gothic.Store = sessions.NewCookieStore([]byte(cfg.OAuth.SessionSecret))
	}

	c.IdentityHandler = identity.NewHandlerImpl(c.IdentityClient, cfg.JWT, logger)
	c.SessionHandler = session.NewHandlerImpl(c.SessionContext, logger)
	c.ProfileHandler = profile.NewHandlerImpl(profileRepo, logger)
	c.DashboardHandler = dashboard.NewHandlerImpl(c.DashboardService, logger)

	if err := c.DashboardService.Start(ctx); err != nil {
		return nil, fmt.Errorf("open feed query: %w", err)
	}
	c.followSession(ctx)

	return c, nil
}

// followSession keeps the dashboard's filtered queries aligned with
// the session context: sign-in points them at the new user, sign-out
// tears them down.
func (c *Container) followSession(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.stopFollow = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-c.SessionContext.Updates():
				userID := ""
				if snap.Session != nil {
					userID = snap.Session.UserID
				}
				if err := c.DashboardService.SetUser(ctx, userID, snap.Profile); err != nil {
					c.Logger.Error("switch dashboard user", slog.Any("error", err))
				}
			}
		}
	}()
}

// Close releases all resources held by the container.
func (c *Container) Close() {
	if c.stopFollow != nil {
		c.stopFollow()
	}
	if c.DashboardService != nil {
		c.DashboardService.Close()
	}
	if c.SessionContext != nil {
		c.SessionContext.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready. No-op in memory mode.
func (c *Container) WaitForDB(ctx context.Context) bool {
	if c.Pool == nil {
		return true
	}
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}

// RunMigrations runs database migrations.
func (c *Container) RunMigrations(connectionURL string) error {
	return database.RunMigrations(connectionURL, c.Logger)
}
