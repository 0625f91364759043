// Package api implements the REST surface: run lifecycle, step ingestion
// through the capture engine, and the query and visualization endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraylite/xraylite/internal/domain"
	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/server"
	"github.com/xraylite/xraylite/internal/storage"
)

// Handler serves the v1 API.
type Handler struct {
	store  storage.Store
	coord  *engine.Coordinator
	logger *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(store storage.Store, coord *engine.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{store: store, coord: coord, logger: logger}
}

// Routes mounts all endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", h.handleCreateRun)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{runID}", h.handleGetRun)
		r.Patch("/runs/{runID}", h.handleCompleteRun)
		r.Delete("/runs/{runID}", h.handleDeleteRun)
		r.Post("/runs/{runID}/steps", h.handleRecordStep)
		r.Get("/runs/{runID}/steps/{stepID}/decisions", h.handleStepDecisions)
		r.Post("/query/steps", h.handleQuerySteps)
		r.Post("/query/decisions", h.handleQueryDecisions)
	})

	r.Get("/visualize/runs/{runID}", h.handleVisualizeRun)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "xray-api", "version": "0.1.0"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError translates internal errors to the canonical error body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, storage.ErrNotFound):
		apiErr = domain.NewAPIError(domain.ErrorTypeNotFound, err.Error())
	default:
		h.logger.Error("internal error",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("error", err.Error()))
		apiErr = domain.ErrServer("internal error")
	}

	var body errorBody
	body.Error.Type = string(apiErr.Type)
	body.Error.Message = apiErr.Message
	writeJSON(w, apiErr.HTTPStatusCode(), body)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.ErrInvalidRequest("invalid request body: %v", err)
	}
	return nil
}
