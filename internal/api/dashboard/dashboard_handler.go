package dashboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fmarques/failforward/internal/api"
	"github.com/fmarques/failforward/internal/types"
)

type HandlerImpl struct {
	service *Service
	logger  *slog.Logger
}

func NewHandlerImpl(service *Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{service: service, logger: logger}
}

// SubmitRequest is the body for failure and goal submissions.
type SubmitRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SubmitResponse reports whether a submission was queued. Accepted is
// false only for a trimmed-empty title; a queued write that later
// fails still reports accepted.
type SubmitResponse struct {
	Accepted bool `json:"accepted"`
}

// GetMyFailures returns the signed-in user's failures, newest first.
func (h *HandlerImpl) GetMyFailures(w http.ResponseWriter, r *http.Request) {
	api.WriteJSONResponse(w, r, http.StatusOK, map[string][]types.Failure{
		"failures": h.service.MyFailures(),
	})
}

// GetFeed returns the global feed, newest first, capped at the feed limit.
func (h *HandlerImpl) GetFeed(w http.ResponseWriter, r *http.Request) {
	api.WriteJSONResponse(w, r, http.StatusOK, map[string][]types.Failure{
		"feed": h.service.Feed(),
	})
}

// GetGoals returns the signed-in user's goals, newest first.
func (h *HandlerImpl) GetGoals(w http.ResponseWriter, r *http.Request) {
	api.WriteJSONResponse(w, r, http.StatusOK, map[string][]types.Goal{
		"goals": h.service.Goals(),
	})
}

// SubmitFailure creates a new failure post.
func (h *HandlerImpl) SubmitFailure(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accepted := h.service.AddFailure(r.Context(), req.Title, req.Description)
	api.WriteJSONResponse(w, r, http.StatusOK, SubmitResponse{Accepted: accepted})
}

// SubmitGoal creates a new goal.
func (h *HandlerImpl) SubmitGoal(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	accepted := h.service.AddGoal(r.Context(), req.Title, req.Description)
	api.WriteJSONResponse(w, r, http.StatusOK, SubmitResponse{Accepted: accepted})
}

// StreamFeed pushes the global feed over server-sent events: the
// current view immediately, then a fresh copy whenever any live query
// replaces its view, until the client disconnects.
func (h *HandlerImpl) StreamFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates, cancel := h.service.Watch()
	defer cancel()

	writeEvent := func() bool {
		payload, err := json.Marshal(h.service.Feed())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "encode feed event", slog.Any("error", err))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: feed\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-updates:
			if !writeEvent() {
				return
			}
		}
	}
}
