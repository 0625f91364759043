// Package memory implements the storage boundary with mutex-guarded maps.
// It backs tests and ephemeral deployments where durability is not needed.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraylite/xraylite/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*storage.RunRecord
	steps     map[string]*storage.StepRecord     // step id -> record
	decisions map[string][]*storage.DecisionRecord // step id -> ordered decisions
	evidence  map[string][]*storage.EvidenceRecord // decision id -> evidence
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		runs:      make(map[string]*storage.RunRecord),
		steps:     make(map[string]*storage.StepRecord),
		decisions: make(map[string][]*storage.DecisionRecord),
		evidence:  make(map[string][]*storage.EvidenceRecord),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListRuns(ctx context.Context, f storage.RunFilter) ([]*storage.RunRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storage.RunRecord
	for _, run := range s.runs {
		if f.PipelineType != "" && run.PipelineType != f.PipelineType {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && run.StartedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && run.StartedAt.After(f.To) {
			continue
		}
		cp := *run
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []*storage.RunRecord{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) CompleteRun(ctx context.Context, id string, result map[string]any, status string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	run.OutputResult = result
	run.Status = status
	run.CompletedAt = &completedAt
	return nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	delete(s.runs, id)

	// Cascade: steps, their decisions, and their evidence all go.
	for stepID, step := range s.steps {
		if step.RunID != id {
			continue
		}
		for _, d := range s.decisions[stepID] {
			delete(s.evidence, d.ID)
		}
		delete(s.decisions, stepID)
		delete(s.steps, stepID)
	}
	return nil
}

func (s *Store) CreateStep(ctx context.Context, step *storage.StepRecord, decisions []*storage.DecisionRecord, evidence []*storage.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[step.RunID]; !exists {
		return fmt.Errorf("run %s: %w", step.RunID, storage.ErrNotFound)
	}

	// Assign the step's position under the write lock so concurrent
	// submissions to one run get distinct, gapless orders.
	seq := 0
	for _, existing := range s.steps {
		if existing.RunID == step.RunID {
			seq++
		}
	}
	step.SequenceOrder = seq

	cp := *step
	s.steps[step.ID] = &cp
	for _, d := range decisions {
		dcp := *d
		s.decisions[step.ID] = append(s.decisions[step.ID], &dcp)
	}
	for _, e := range evidence {
		ecp := *e
		s.evidence[e.DecisionID] = append(s.evidence[e.DecisionID], &ecp)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, runID string) ([]*storage.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*storage.StepRecord
	for _, step := range s.steps {
		if step.RunID == runID {
			cp := *step
			steps = append(steps, &cp)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].SequenceOrder < steps[j].SequenceOrder
	})
	return steps, nil
}

func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*storage.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, exists := s.steps[stepID]
	if !exists || step.RunID != runID {
		return nil, fmt.Errorf("step %s in run %s: %w", stepID, runID, storage.ErrNotFound)
	}
	cp := *step
	return &cp, nil
}

func (s *Store) ListStepDecisions(ctx context.Context, stepID string, f storage.DecisionFilter) ([]*storage.DecisionRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storage.DecisionRecord
	for _, d := range s.decisions[stepID] {
		if f.DecisionType != "" && d.DecisionType != f.DecisionType {
			continue
		}
		if f.Reason != "" && d.Reason != f.Reason {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SequenceOrder < matched[j].SequenceOrder
	})

	total := len(matched)
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []*storage.DecisionRecord{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) QuerySteps(ctx context.Context, q storage.StepQuery) ([]*storage.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storage.StepRecord
	for _, step := range s.steps {
		run, ok := s.runs[step.RunID]
		if !ok {
			continue
		}
		if q.PipelineType != "" && run.PipelineType != q.PipelineType {
			continue
		}
		if q.StepName != "" && step.Name != q.StepName {
			continue
		}
		if !q.From.IsZero() && step.StartedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && step.StartedAt.After(q.To) {
			continue
		}
		if q.MinRejectionRate != nil && (step.Stats == nil || step.Stats.RejectionRate < *q.MinRejectionRate) {
			continue
		}
		if q.MaxRejectionRate != nil && step.Stats != nil && step.Stats.RejectionRate > *q.MaxRejectionRate {
			continue
		}
		cp := *step
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, q.Limit, q.Offset), nil
}

func (s *Store) QueryDecisions(ctx context.Context, q storage.DecisionQuery) ([]*storage.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storage.DecisionRecord
	for stepID, decisions := range s.decisions {
		step, ok := s.steps[stepID]
		if !ok {
			continue
		}
		if q.StepName != "" && step.Name != q.StepName {
			continue
		}
		for _, d := range decisions {
			if q.CandidateID != "" && d.CandidateID != q.CandidateID {
				continue
			}
			if q.DecisionType != "" && d.DecisionType != q.DecisionType {
				continue
			}
			if q.Reason != "" && d.Reason != q.Reason {
				continue
			}
			cp := *d
			matched = append(matched, &cp)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, q.Limit, q.Offset), nil
}

// ListDecisionEvidence returns evidence records for a decision. Only the
// memory store exposes this; it backs handler tests.
func (s *Store) ListDecisionEvidence(decisionID string) []*storage.EvidenceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*storage.EvidenceRecord(nil), s.evidence[decisionID]...)
}

func (s *Store) Close() error {
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 100
	}
	// Negative offsets come straight from client query bodies; treat them
	// as zero, matching how SQLite handles a negative OFFSET.
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
