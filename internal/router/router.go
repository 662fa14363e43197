package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/fmarques/failforward/internal/api/dashboard"
	"github.com/fmarques/failforward/internal/api/identity"
	"github.com/fmarques/failforward/internal/api/profile"
	"github.com/fmarques/failforward/internal/api/session"
)

// Config carries the handlers and middleware the router wires up.
type Config struct {
	IdentityHandler        *identity.HandlerImpl
	SessionHandler         *session.HandlerImpl
	ProfileHandler         *profile.HandlerImpl
	DashboardHandler       *dashboard.HandlerImpl
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter builds the application router. Server-wide middleware
// (request id, logging, recoverer) is applied in main before mounting.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes.
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.IdentityHandler.Register)
			r.Post("/auth/login", cfg.IdentityHandler.Login)
			r.Get("/auth/{provider}", cfg.IdentityHandler.FederatedBegin)
			r.Get("/auth/{provider}/callback", cfg.IdentityHandler.FederatedCallback)
		})

		// Routes behind JWT authentication.
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout", cfg.IdentityHandler.Logout)
			r.Get("/session", cfg.SessionHandler.GetSession)

			r.Get("/profile", cfg.ProfileHandler.GetProfile)
			r.Put("/profile", cfg.ProfileHandler.UpdateProfile)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/failures", cfg.DashboardHandler.GetMyFailures)
				r.Post("/failures", cfg.DashboardHandler.SubmitFailure)
				r.Get("/feed", cfg.DashboardHandler.GetFeed)
				r.Get("/feed/stream", cfg.DashboardHandler.StreamFeed)
				r.Get("/goals", cfg.DashboardHandler.GetGoals)
				r.Post("/goals", cfg.DashboardHandler.SubmitGoal)
			})
		})
	})

	return r
}
