package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/storage"
)

func TestMemoryStore_RunLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	run := &storage.RunRecord{
		ID:           "run-1",
		PipelineType: "competitor_selection",
		Status:       "running",
		StartedAt:    time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := store.CompleteRun(ctx, "run-1", map[string]any{"winner": "456"}, "completed", time.Now().UTC()); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	retrieved, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if retrieved.Status != "completed" {
		t.Errorf("Status = %v, want completed", retrieved.Status)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_StepsAndDecisions(t *testing.T) {
	store := New()
	ctx := context.Background()

	run := &storage.RunRecord{ID: "run-1", PipelineType: "p", Status: "running", StartedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	step := &storage.StepRecord{
		ID: "step-1", RunID: "run-1", Name: "filtering", StartedAt: time.Now().UTC(),
		Stats: &engine.Stats{InputCount: 3, OutputCount: 1, RejectionRate: 2.0 / 3.0},
	}
	decisions := []*storage.DecisionRecord{
		{ID: "dec-1", StepID: "step-1", CandidateID: "a", DecisionType: "accepted", SequenceOrder: 0, CreatedAt: time.Now().UTC()},
		{ID: "dec-2", StepID: "step-1", CandidateID: "b", DecisionType: "rejected", Reason: "price", SequenceOrder: 1, CreatedAt: time.Now().UTC()},
		{ID: "dec-3", StepID: "step-1", CandidateID: "c", DecisionType: "rejected", Reason: "rating", SequenceOrder: 2, CreatedAt: time.Now().UTC()},
	}
	if err := store.CreateStep(ctx, step, decisions, nil); err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}

	steps, err := store.ListSteps(ctx, "run-1")
	if err != nil || len(steps) != 1 {
		t.Fatalf("ListSteps() = %d, %v, want 1", len(steps), err)
	}

	rejected, total, err := store.ListStepDecisions(ctx, "step-1", storage.DecisionFilter{DecisionType: "rejected"})
	if err != nil {
		t.Fatalf("ListStepDecisions() error = %v", err)
	}
	if total != 2 || len(rejected) != 2 {
		t.Errorf("ListStepDecisions() = %d/%d, want 2/2", len(rejected), total)
	}

	minRate := 0.5
	matched, err := store.QuerySteps(ctx, storage.StepQuery{MinRejectionRate: &minRate})
	if err != nil {
		t.Fatalf("QuerySteps() error = %v", err)
	}
	if len(matched) != 1 {
		t.Errorf("QuerySteps() count = %d, want 1", len(matched))
	}
}

func TestMemoryStore_QueryNegativeOffset(t *testing.T) {
	store := New()
	ctx := context.Background()

	run := &storage.RunRecord{ID: "run-1", PipelineType: "p", Status: "running", StartedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	step := &storage.StepRecord{ID: "step-1", RunID: "run-1", Name: "filtering", StartedAt: time.Now().UTC()}
	decisions := []*storage.DecisionRecord{
		{ID: "dec-1", StepID: "step-1", CandidateID: "a", DecisionType: "accepted", CreatedAt: time.Now().UTC()},
	}
	if err := store.CreateStep(ctx, step, decisions, nil); err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}

	// A negative offset arrives unvalidated from query request bodies and
	// must behave like zero, as the SQLite backend does.
	found, err := store.QueryDecisions(ctx, storage.DecisionQuery{Offset: -1})
	if err != nil {
		t.Fatalf("QueryDecisions() error = %v", err)
	}
	if len(found) != 1 {
		t.Errorf("QueryDecisions() count = %d, want 1", len(found))
	}

	steps, err := store.QuerySteps(ctx, storage.StepQuery{Offset: -3, Limit: -1})
	if err != nil {
		t.Fatalf("QuerySteps() error = %v", err)
	}
	if len(steps) != 1 {
		t.Errorf("QuerySteps() count = %d, want 1", len(steps))
	}
}

func TestMemoryStore_StepSequenceAssigned(t *testing.T) {
	store := New()
	ctx := context.Background()

	run := &storage.RunRecord{ID: "run-1", PipelineType: "p", Status: "running", StartedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			step := &storage.StepRecord{
				ID:    fmt.Sprintf("step-%d", n),
				RunID: "run-1",
				Name:  "filtering",
				// Caller-supplied order must be ignored.
				SequenceOrder: 99,
				StartedAt:     time.Now().UTC(),
			}
			if err := store.CreateStep(ctx, step, nil, nil); err != nil {
				t.Errorf("CreateStep() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	steps, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 8 {
		t.Fatalf("ListSteps() count = %d, want 8", len(steps))
	}
	for i, step := range steps {
		if step.SequenceOrder != i {
			t.Errorf("SequenceOrder[%d] = %d, want %d", i, step.SequenceOrder, i)
		}
	}
}

func TestMemoryStore_CreateStepUnknownRun(t *testing.T) {
	store := New()

	step := &storage.StepRecord{ID: "step-1", RunID: "missing", Name: "filtering", StartedAt: time.Now().UTC()}
	err := store.CreateStep(context.Background(), step, nil, nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CreateStep() error = %v, want ErrNotFound", err)
	}
}
