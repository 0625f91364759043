package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraylite/xraylite/internal/domain"
	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/storage"
)

// RunSummary is the list-view projection of a run.
type RunSummary struct {
	ID           string     `json:"id"`
	PipelineType string     `json:"pipeline_type"`
	Name         string     `json:"name,omitempty"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunListResponse is a page of runs.
type RunListResponse struct {
	Runs     []RunSummary `json:"runs"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.RunFilter{
		PipelineType: q.Get("pipeline_type"),
		Status:       q.Get("status"),
		Page:         intParam(q.Get("page"), 1),
		PageSize:     clamp(intParam(q.Get("page_size"), 20), 1, 100),
	}
	var err error
	if filter.From, err = timeParam(q.Get("date_from")); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.To, err = timeParam(q.Get("date_to")); err != nil {
		h.writeError(w, r, err)
		return
	}

	runs, total, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummary{
			ID:           run.ID,
			PipelineType: run.PipelineType,
			Name:         run.Name,
			Status:       run.Status,
			StartedAt:    run.StartedAt,
			CompletedAt:  run.CompletedAt,
		})
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Runs:     summaries,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// DecisionOut is the wire projection of a stored decision.
type DecisionOut struct {
	ID            string         `json:"id"`
	CandidateID   string         `json:"candidate_id"`
	DecisionType  string         `json:"decision_type"`
	Reason        string         `json:"reason,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	SequenceOrder int            `json:"sequence_order"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func decisionOut(d *storage.DecisionRecord) DecisionOut {
	return DecisionOut{
		ID:            d.ID,
		CandidateID:   d.CandidateID,
		DecisionType:  d.DecisionType,
		Reason:        d.Reason,
		Score:         d.Score,
		SequenceOrder: d.SequenceOrder,
		Metadata:      d.Metadata,
		CreatedAt:     d.CreatedAt,
	}
}

// StepOut is the wire projection of a stored step.
type StepOut struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SequenceOrder int            `json:"sequence_order"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	Stats         *engine.Stats  `json:"stats,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Decisions     []DecisionOut  `json:"decisions,omitempty"`
}

// RunDetailResponse is a run with its ordered steps.
type RunDetailResponse struct {
	ID           string         `json:"id"`
	PipelineType string         `json:"pipeline_type"`
	Name         string         `json:"name,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Steps        []StepOut      `json:"steps"`
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	includeDecisions := r.URL.Query().Get("include_decisions") == "true"

	detail, err := h.loadRunDetail(r, runID, includeDecisions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) loadRunDetail(r *http.Request, runID string, includeDecisions bool) (*RunDetailResponse, error) {
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		return nil, err
	}
	steps, err := h.store.ListSteps(r.Context(), runID)
	if err != nil {
		return nil, err
	}

	out := make([]StepOut, 0, len(steps))
	for _, step := range steps {
		so := StepOut{
			ID:            step.ID,
			Name:          step.Name,
			SequenceOrder: step.SequenceOrder,
			Input:         step.InputData,
			Output:        step.OutputData,
			Config:        step.Config,
			Reasoning:     step.Reasoning,
			Stats:         step.Stats,
			StartedAt:     step.StartedAt,
			CompletedAt:   step.CompletedAt,
		}
		if includeDecisions {
			decisions, _, err := h.store.ListStepDecisions(r.Context(), step.ID, storage.DecisionFilter{PageSize: 500})
			if err != nil {
				return nil, err
			}
			for _, d := range decisions {
				so.Decisions = append(so.Decisions, decisionOut(d))
			}
		}
		out = append(out, so)
	}

	return &RunDetailResponse{
		ID:           run.ID,
		PipelineType: run.PipelineType,
		Name:         run.Name,
		Input:        run.InputContext,
		Output:       run.OutputResult,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		Metadata:     run.Metadata,
		Steps:        out,
	}, nil
}

// StepDecisionListResponse is a page of one step's decisions.
type StepDecisionListResponse struct {
	StepID    string        `json:"step_id"`
	StepName  string        `json:"step_name"`
	Decisions []DecisionOut `json:"decisions"`
	Total     int           `json:"total"`
	Page      int           `json:"page"`
	PageSize  int           `json:"page_size"`
}

func (h *Handler) handleStepDecisions(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stepID := chi.URLParam(r, "stepID")
	q := r.URL.Query()

	step, err := h.store.GetStep(r.Context(), runID, stepID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := storage.DecisionFilter{
		DecisionType: q.Get("decision_type"),
		Reason:       q.Get("reason"),
		Page:         intParam(q.Get("page"), 1),
		PageSize:     clamp(intParam(q.Get("page_size"), 50), 1, 500),
	}
	decisions, total, err := h.store.ListStepDecisions(r.Context(), stepID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]DecisionOut, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, decisionOut(d))
	}

	writeJSON(w, http.StatusOK, StepDecisionListResponse{
		StepID:    stepID,
		StepName:  step.Name,
		Decisions: out,
		Total:     total,
		Page:      filter.Page,
		PageSize:  filter.PageSize,
	})
}

type stepQueryRequest struct {
	PipelineType     string     `json:"pipeline_type,omitempty"`
	StepName         string     `json:"step_name,omitempty"`
	MinRejectionRate *float64   `json:"min_rejection_rate,omitempty"`
	MaxRejectionRate *float64   `json:"max_rejection_rate,omitempty"`
	DateFrom         *time.Time `json:"date_from,omitempty"`
	DateTo           *time.Time `json:"date_to,omitempty"`
	Limit            int        `json:"limit,omitempty"`
	Offset           int        `json:"offset,omitempty"`
}

// StepQueryItem is a cross-run step hit.
type StepQueryItem struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	Stats     *engine.Stats `json:"stats,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// StepQueryResponse lists steps matching a cross-run query.
type StepQueryResponse struct {
	Steps []StepQueryItem `json:"steps"`
	Count int             `json:"count"`
}

func (h *Handler) handleQuerySteps(w http.ResponseWriter, r *http.Request) {
	var req stepQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	query := storage.StepQuery{
		PipelineType:     req.PipelineType,
		StepName:         req.StepName,
		MinRejectionRate: req.MinRejectionRate,
		MaxRejectionRate: req.MaxRejectionRate,
		Limit:            req.Limit,
		Offset:           req.Offset,
	}
	if req.DateFrom != nil {
		query.From = *req.DateFrom
	}
	if req.DateTo != nil {
		query.To = *req.DateTo
	}

	steps, err := h.store.QuerySteps(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]StepQueryItem, 0, len(steps))
	for _, step := range steps {
		items = append(items, StepQueryItem{
			ID:        step.ID,
			RunID:     step.RunID,
			Name:      step.Name,
			Stats:     step.Stats,
			Reasoning: step.Reasoning,
			StartedAt: step.StartedAt,
		})
	}

	writeJSON(w, http.StatusOK, StepQueryResponse{Steps: items, Count: len(items)})
}

type decisionQueryRequest struct {
	CandidateID  string `json:"candidate_id,omitempty"`
	DecisionType string `json:"decision_type,omitempty"`
	Reason       string `json:"reason,omitempty"`
	StepName     string `json:"step_name,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// DecisionQueryItem is a cross-run decision hit.
type DecisionQueryItem struct {
	ID           string         `json:"id"`
	StepID       string         `json:"step_id"`
	CandidateID  string         `json:"candidate_id"`
	DecisionType string         `json:"decision_type"`
	Reason       string         `json:"reason,omitempty"`
	Score        *float64       `json:"score,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DecisionQueryResponse lists decisions matching a cross-run query.
type DecisionQueryResponse struct {
	Decisions []DecisionQueryItem `json:"decisions"`
	Count     int                 `json:"count"`
}

func (h *Handler) handleQueryDecisions(w http.ResponseWriter, r *http.Request) {
	var req decisionQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	decisions, err := h.store.QueryDecisions(r.Context(), storage.DecisionQuery{
		CandidateID:  req.CandidateID,
		DecisionType: req.DecisionType,
		Reason:       req.Reason,
		StepName:     req.StepName,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]DecisionQueryItem, 0, len(decisions))
	for _, d := range decisions {
		items = append(items, DecisionQueryItem{
			ID:           d.ID,
			StepID:       d.StepID,
			CandidateID:  d.CandidateID,
			DecisionType: d.DecisionType,
			Reason:       d.Reason,
			Score:        d.Score,
			Metadata:     d.Metadata,
			CreatedAt:    d.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, DecisionQueryResponse{Decisions: items, Count: len(items)})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.ErrInvalidRequest("invalid timestamp %q: expected RFC 3339", s)
	}
	return t, nil
}
