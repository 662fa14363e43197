package session

import (
	"log/slog"
	"net/http"

	"github.com/fmarques/failforward/internal/api"
)

type HandlerImpl struct {
	sessions *Context
	logger   *slog.Logger
}

func NewHandlerImpl(sessions *Context, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{sessions: sessions, logger: logger}
}

// GetSession reports the current session state, the shape a client
// needs to render its account chrome.
func (h *HandlerImpl) GetSession(w http.ResponseWriter, r *http.Request) {
	api.WriteJSONResponse(w, r, http.StatusOK, h.sessions.Snapshot())
}
