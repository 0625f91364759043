package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xraylite/xraylite/internal/domain"
	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/server"
	"github.com/xraylite/xraylite/internal/storage"
)

type createRunRequest struct {
	PipelineType string         `json:"pipeline_type"`
	Name         string         `json:"name,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateRunResponse acknowledges a newly started run.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.PipelineType == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("pipeline_type is required"))
		return
	}

	run := &storage.RunRecord{
		ID:           uuid.New().String(),
		PipelineType: req.PipelineType,
		Name:         req.Name,
		InputContext: req.Input,
		Metadata:     req.Metadata,
		Status:       domain.RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "run_id", run.ID)
	writeJSON(w, http.StatusCreated, CreateRunResponse{RunID: run.ID})
}

type stepPayload struct {
	Name      string            `json:"name"`
	Input     map[string]any    `json:"input,omitempty"`
	Output    map[string]any    `json:"output,omitempty"`
	Config    map[string]any    `json:"config,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"`
	Decisions []domain.Decision `json:"decisions,omitempty"`
	Evidence  []domain.Evidence `json:"evidence,omitempty"`
}

// RecordStepResponse acknowledges a recorded step along with the
// canonical stats and the reduction summary.
type RecordStepResponse struct {
	StepID          string                  `json:"step_id"`
	Stats           *engine.Stats           `json:"stats,omitempty"`
	SamplingSummary *engine.SamplingSummary `json:"sampling_summary,omitempty"`
}

func (h *Handler) handleRecordStep(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var payload stepPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Name == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("step name is required"))
		return
	}

	if _, err := h.store.GetRun(r.Context(), runID); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.coord.Process(engine.Submission{
		Decisions: payload.Decisions,
		Evidence:  payload.Evidence,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	step := &storage.StepRecord{
		ID:          uuid.New().String(),
		RunID:       runID,
		Name:        payload.Name,
		InputData:   payload.Input,
		OutputData:  payload.Output,
		Config:      payload.Config,
		Reasoning:   payload.Reasoning,
		StartedAt:   now,
		CompletedAt: &now,
	}

	var resp RecordStepResponse
	var decisions []*storage.DecisionRecord
	var evidence []*storage.EvidenceRecord

	if len(payload.Decisions) > 0 {
		stats := result.Stats
		step.Stats = &stats
		resp.Stats = &stats
		summary := result.Summary
		resp.SamplingSummary = &summary

		for _, bd := range result.Decisions {
			rec := &storage.DecisionRecord{
				ID:            uuid.New().String(),
				StepID:        step.ID,
				CandidateID:   bd.CandidateID,
				DecisionType:  string(bd.Type),
				Reason:        bd.Reason,
				Score:         bd.Score,
				SequenceOrder: bd.Sequence,
				Metadata:      bd.Metadata,
				CreatedAt:     bd.Timestamp,
			}
			decisions = append(decisions, rec)

			if bd.Evidence != nil {
				ts := bd.Evidence.Timestamp
				if ts.IsZero() {
					ts = now
				}
				evidence = append(evidence, &storage.EvidenceRecord{
					ID:           uuid.New().String(),
					DecisionID:   rec.ID,
					EvidenceType: bd.Evidence.Type,
					Data:         bd.Evidence.Data,
					CreatedAt:    ts,
				})
			}
		}
	}

	if err := h.store.CreateStep(r.Context(), step, decisions, evidence); err != nil {
		h.writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "step_id", step.ID)
	if resp.SamplingSummary != nil && resp.SamplingSummary.Sampled {
		server.AddLogField(r.Context(), "sampling",
			fmt.Sprintf("kept %d of %d", resp.SamplingSummary.Kept, resp.SamplingSummary.Total))
	}
	if result.DroppedEvidence > 0 {
		server.AddLogField(r.Context(), "dropped_evidence", fmt.Sprintf("%d", result.DroppedEvidence))
	}

	resp.StepID = step.ID
	writeJSON(w, http.StatusCreated, resp)
}

type completeRunRequest struct {
	Result map[string]any `json:"result,omitempty"`
	Status string         `json:"status,omitempty"`
}

// CompleteRunResponse acknowledges a run transitioning to a final status.
type CompleteRunResponse struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

func (h *Handler) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req completeRunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status == "" {
		req.Status = domain.RunStatusCompleted
	}
	switch req.Status {
	case domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusCancelled:
	default:
		h.writeError(w, r, domain.ErrInvalidRequest("invalid status %q", req.Status))
		return
	}

	completedAt := time.Now().UTC()
	if err := h.store.CompleteRun(r.Context(), runID, req.Result, req.Status, completedAt); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CompleteRunResponse{
		RunID:       runID,
		Status:      req.Status,
		CompletedAt: completedAt,
	})
}

func (h *Handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.store.DeleteRun(r.Context(), runID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
