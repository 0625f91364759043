// Package domain defines the core data model shared across the service:
// pipeline runs, steps, candidate decisions, and their supporting evidence.
package domain

import "time"

// DecisionType classifies a candidate-evaluation outcome within a step.
type DecisionType string

const (
	DecisionAccepted DecisionType = "accepted"
	DecisionRejected DecisionType = "rejected"
	DecisionPending  DecisionType = "pending"
)

// Valid reports whether t is one of the known decision types.
func (t DecisionType) Valid() bool {
	switch t {
	case DecisionAccepted, DecisionRejected, DecisionPending:
		return true
	}
	return false
}

// UnknownReason is the bucket used for rejected decisions that carry no reason.
const UnknownReason = "unknown"

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Decision is a single candidate-evaluation outcome within one step.
//
// Sequence is the decision's position in the original submission order.
// It is assigned exactly once, before the decision set is ever reduced or
// regrouped, and is the sole ordering key for everything downstream.
type Decision struct {
	CandidateID string         `json:"candidate_id"`
	Type        DecisionType   `json:"decision_type"`
	Reason      string         `json:"reason,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	Sequence    int            `json:"sequence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitzero"`
}

// RejectionReason returns the reason bucket for a rejected decision.
func (d Decision) RejectionReason() string {
	if d.Reason == "" {
		return UnknownReason
	}
	return d.Reason
}

// Evidence is a heavy supporting payload (raw model output, scoring
// breakdowns, ...) explaining exactly one decision.
//
// DecisionSequence, when set, names the pre-sampling Sequence of the
// decision this evidence describes. When every evidence item in a
// submission carries it, binding happens by that stable identity instead
// of by list position.
type Evidence struct {
	Type             string         `json:"evidence_type"`
	Data             map[string]any `json:"data"`
	Timestamp        time.Time      `json:"timestamp,omitzero"`
	DecisionSequence *int           `json:"decision_sequence,omitempty"`
}
