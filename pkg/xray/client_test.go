package xray

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStartRunAndRecordStep(t *testing.T) {
	var gotStep Step
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/runs":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"run_id": "run-1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/runs/run-1/steps":
			if err := json.NewDecoder(r.Body).Decode(&gotStep); err != nil {
				t.Errorf("decode step: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(StepResult{
				StepID: "step-1",
				Stats:  &Stats{InputCount: 2, OutputCount: 1, RejectionRate: 0.5},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	runID, err := c.StartRun(ctx, "search", "smoke", nil, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID != "run-1" {
		t.Fatalf("expected run-1, got %q", runID)
	}

	result, err := c.RecordStep(ctx, runID, Step{
		Name: "rerank",
		Decisions: []Decision{
			Accepted("c1", 0.9),
			Rejected("c2", "low_score"),
		},
	})
	if err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if result.StepID != "step-1" {
		t.Fatalf("expected step-1, got %q", result.StepID)
	}
	if result.Stats == nil || result.Stats.InputCount != 2 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}

	if gotStep.Name != "rerank" || len(gotStep.Decisions) != 2 {
		t.Fatalf("server received unexpected step: %+v", gotStep)
	}
	if gotStep.Decisions[0].Type != "accepted" || gotStep.Decisions[1].Reason != "low_score" {
		t.Fatalf("decision builders produced wrong payload: %+v", gotStep.Decisions)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"error":{"type":"guardrail_exceeded","message":"too many decisions"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.RecordStep(context.Background(), "run-1", Step{Name: "filter"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Type != "guardrail_exceeded" || apiErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListRunsQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("pipeline_type") != "search" || q.Get("status") != "completed" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("page") != "2" || q.Get("page_size") != "10" {
			t.Errorf("unexpected paging: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(RunList{Total: 0, Page: 2, PageSize: 10, Runs: []RunSummary{}})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	list, err := c.ListRuns(context.Background(), ListRunsOptions{
		PipelineType: "search",
		Status:       "completed",
		Page:         2,
		PageSize:     10,
	})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if list.Page != 2 {
		t.Fatalf("unexpected page: %d", list.Page)
	}
}

func TestDisabledClientMakesNoRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithDisabled())
	ctx := context.Background()

	runID, err := c.StartRun(ctx, "search", "", nil, nil)
	if err != nil || runID != "" {
		t.Fatalf("disabled StartRun: %q, %v", runID, err)
	}
	result, err := c.RecordStep(ctx, "any", Step{Name: "s"})
	if err != nil || result == nil {
		t.Fatalf("disabled RecordStep: %+v, %v", result, err)
	}
	if err := c.CompleteRun(ctx, "any", nil, ""); err != nil {
		t.Fatalf("disabled CompleteRun: %v", err)
	}
	if err := c.DeleteRun(ctx, "any"); err != nil {
		t.Fatalf("disabled DeleteRun: %v", err)
	}
}

func TestDecisionTimestampOmittedWhenZero(t *testing.T) {
	b, err := json.Marshal(Rejected("c1", "low_score"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "timestamp") {
		t.Errorf("zero timestamp serialized: %s", b)
	}

	d := Pending("c2")
	d.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err = json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), "2026-03-01T12:00:00Z") {
		t.Errorf("set timestamp missing: %s", b)
	}
}

func TestDeleteRunNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if err := c.DeleteRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
}
