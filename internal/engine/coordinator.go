// Package engine implements the decision-capture reduction pipeline: it
// bounds oversized submissions, computes canonical stats over the full
// decision set, shrinks the set with stratified sampling, restores original
// submission order, and binds evidence to the surviving decisions.
package engine

import (
	"time"

	"github.com/xraylite/xraylite/internal/domain"
)

// Submission is one step's worth of decisions and evidence, as received
// from a client.
type Submission struct {
	Decisions []domain.Decision
	Evidence  []domain.Evidence
}

// SamplingSummary reports whether and how much reduction occurred.
type SamplingSummary struct {
	Total   int  `json:"total"`
	Kept    int  `json:"kept"`
	Sampled bool `json:"sampled"`
}

// Result is the processed output of one step submission: the canonical
// stats over the full input, the reduction summary, and the reduced,
// order-reconciled, evidence-bound decision set to persist.
type Result struct {
	Stats           Stats
	Summary         SamplingSummary
	Decisions       []BoundDecision
	DroppedEvidence int
}

// Coordinator runs the capture pipeline for a single step submission.
// It holds only configuration; processing is pure and per-request, so one
// coordinator may serve concurrent submissions.
type Coordinator struct {
	limits  Limits
	sampler Sampler
}

// NewCoordinator creates a coordinator with the given limits and sampler.
func NewCoordinator(limits Limits, sampler Sampler) *Coordinator {
	return &Coordinator{limits: limits, sampler: sampler}
}

// Process validates, measures, reduces, reorders, and binds one step
// submission. Sampling randomness is seeded from the clock; use
// ProcessSeeded for reproducible output.
func (c *Coordinator) Process(sub Submission) (*Result, error) {
	return c.ProcessSeeded(sub, time.Now().UnixNano())
}

// ProcessSeeded is Process with an explicit sampling seed. A given
// submission and seed always produce the same result.
//
// Errors are detected before anything is produced; a failed submission
// yields no partial output.
func (c *Coordinator) ProcessSeeded(sub Submission, seed int64) (*Result, error) {
	if err := c.limits.Check(len(sub.Decisions), len(sub.Evidence)); err != nil {
		return nil, err
	}

	decisions := make([]domain.Decision, len(sub.Decisions))
	for i, d := range sub.Decisions {
		if !d.Type.Valid() {
			return nil, domain.ErrInvalidRequest("decision %d: unknown decision_type %q", i, d.Type)
		}
		d.Sequence = i // submission index, fixed before any mutation
		if d.Timestamp.IsZero() {
			d.Timestamp = time.Now().UTC()
		}
		decisions[i] = d
	}

	stats := ComputeStats(decisions)

	kept, sampled := c.sampler.Sample(decisions, seed)

	bound, dropped, err := bindEvidence(kept, sub.Evidence, len(decisions))
	if err != nil {
		return nil, err
	}

	return &Result{
		Stats: stats,
		Summary: SamplingSummary{
			Total:   len(decisions),
			Kept:    len(kept),
			Sampled: sampled,
		},
		Decisions:       bound,
		DroppedEvidence: dropped,
	}, nil
}
