// Package storage defines the persistence boundary for runs, steps,
// decisions, and evidence.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xraylite/xraylite/internal/engine"
)

// ErrNotFound is returned when a referenced run or step does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is one end-to-end execution of an instrumented pipeline.
type RunRecord struct {
	ID           string
	PipelineType string
	Name         string
	InputContext map[string]any
	OutputResult map[string]any
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Metadata     map[string]any
}

// StepRecord is one stage of a run. Stats carries the canonical
// pre-sampling metrics computed at ingest time.
type StepRecord struct {
	ID            string
	RunID         string
	Name          string
	SequenceOrder int
	InputData     map[string]any
	OutputData    map[string]any
	Config        map[string]any
	Reasoning     string
	Stats         *engine.Stats
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// DecisionRecord is one persisted candidate decision within a step.
// SequenceOrder preserves the decision's position in the original
// submission, surviving any reduction that happened at ingest.
type DecisionRecord struct {
	ID            string
	StepID        string
	CandidateID   string
	DecisionType  string
	Reason        string
	Score         *float64
	SequenceOrder int
	Metadata      map[string]any
	CreatedAt     time.Time
}

// EvidenceRecord is a heavy supporting payload tied to one decision.
type EvidenceRecord struct {
	ID           string
	DecisionID   string
	EvidenceType string
	Data         map[string]any
	CreatedAt    time.Time
}

// RunFilter selects and pages runs.
type RunFilter struct {
	PipelineType string
	Status       string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// DecisionFilter selects and pages decisions within one step.
type DecisionFilter struct {
	DecisionType string
	Reason       string
	Page         int
	PageSize     int
}

// StepQuery selects steps across runs, e.g. to surface stages with
// unusually high rejection rates.
type StepQuery struct {
	PipelineType     string
	StepName         string
	MinRejectionRate *float64
	MaxRejectionRate *float64
	From             time.Time
	To               time.Time
	Limit            int
	Offset           int
}

// DecisionQuery selects decisions across steps, e.g. to track one
// candidate through a pipeline.
type DecisionQuery struct {
	CandidateID  string
	DecisionType string
	Reason       string
	StepName     string
	Limit        int
	Offset       int
}

// Store persists the audit trail. Decisions and evidence are written
// once, atomically, as part of their step and never mutated afterwards.
// Deleting a run cascades to all of its descendants.
type Store interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, f RunFilter) ([]*RunRecord, int, error)
	CompleteRun(ctx context.Context, id string, result map[string]any, status string, completedAt time.Time) error
	DeleteRun(ctx context.Context, id string) error

	// CreateStep persists a step together with its decisions and
	// evidence in a single transaction: either everything lands or
	// nothing does. The step's SequenceOrder is assigned inside that
	// transaction from the run's current step count and written back
	// to the record; any caller-supplied value is ignored.
	CreateStep(ctx context.Context, step *StepRecord, decisions []*DecisionRecord, evidence []*EvidenceRecord) error
	ListSteps(ctx context.Context, runID string) ([]*StepRecord, error)
	GetStep(ctx context.Context, runID, stepID string) (*StepRecord, error)

	ListStepDecisions(ctx context.Context, stepID string, f DecisionFilter) ([]*DecisionRecord, int, error)
	QuerySteps(ctx context.Context, q StepQuery) ([]*StepRecord, error)
	QueryDecisions(ctx context.Context, q DecisionQuery) ([]*DecisionRecord, error)

	Close() error
}
