package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth/gothic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fmarques/failforward/app/observability/metrics"
	"github.com/fmarques/failforward/config"
	"github.com/fmarques/failforward/internal/api"
	"github.com/fmarques/failforward/internal/types"
)

// HandlerImpl exposes the identity client over HTTP.
type HandlerImpl struct {
	client *Client
	jwtCfg config.JWTConfig
	logger *slog.Logger
}

func NewHandlerImpl(client *Client, jwtCfg config.JWTConfig, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{client: client, jwtCfg: jwtCfg, logger: logger}
}

// RegisterRequest is the sign-up request body.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// LoginRequest is the password sign-in request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by every successful authentication flow.
type SessionResponse struct {
	AccessToken string         `json:"access_token"`
	Session     *types.Session `json:"session"`
}

func (h *HandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.client.SignUp(r.Context(), req.Email, req.Password, types.SignUpParams{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	h.countAuth(r, "register", err)
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, sess)
}

func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.client.SignIn(r.Context(), req.Email, req.Password)
	h.countAuth(r, "login", err)
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}

	h.respondWithToken(w, r, http.StatusOK, sess)
}

// Logout never fails from the caller's perspective; provider errors are
// logged inside the client.
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	h.client.SignOut(r.Context())
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"success": true})
}

// FederatedBegin redirects the browser into the provider's consent flow.
func (h *HandlerImpl) FederatedBegin(w http.ResponseWriter, r *http.Request) {
	r = gothic.GetContextWithProvider(r, chi.URLParam(r, "provider"))
	gothic.BeginAuthHandler(w, r)
}

// FederatedCallback completes the provider flow and signs the user in,
// creating the profile on a first-ever login for that identity.
func (h *HandlerImpl) FederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	r = gothic.GetContextWithProvider(r, provider)

	providerUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Federated auth failed",
			slog.String("provider", provider), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadGateway, "federated sign-in failed")
		return
	}

	sess, err := h.client.SignInFederated(r.Context(), provider, providerUser)
	h.countAuth(r, "federated", err)
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}

	h.respondWithToken(w, r, http.StatusOK, sess)
}

func (h *HandlerImpl) respondWithToken(w http.ResponseWriter, r *http.Request, status int, sess *types.Session) {
	token, err := GenerateAccessToken(sess.UserID, sess.Email, h.jwtCfg)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Access token generation failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to issue access token")
		return
	}
	api.WriteJSONResponse(w, r, status, SessionResponse{AccessToken: token, Session: sess})
}

// respondAuthError maps provider error codes to HTTP statuses while
// passing the literal provider message through to the user.
func (h *HandlerImpl) respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		h.logger.ErrorContext(r.Context(), "Authentication failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusUnauthorized
	switch authErr.Code {
	case CodeEmailAlreadyInUse:
		status = http.StatusConflict
	case CodeWeakPassword:
		status = http.StatusBadRequest
	case CodeNetwork:
		status = http.StatusBadGateway
	}
	api.ErrorResponse(w, r, status, authErr.Message)
}

func (h *HandlerImpl) countAuth(r *http.Request, flow string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Get().AuthRequestsTotal.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("result", result),
	))
}
