package engine

import "github.com/xraylite/xraylite/internal/domain"

// Default storage guardrails.
const (
	DefaultMaxDecisionsPerStep = 100_000
	DefaultMaxEvidencePerStep  = 1000
)

// Limits bounds the size of a single step submission. The check runs
// before any stats or sampling work so a pathological submission is
// rejected at constant cost, with nothing persisted.
type Limits struct {
	MaxDecisionsPerStep int
	MaxEvidencePerStep  int
}

// DefaultLimits returns the default submission limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDecisionsPerStep: DefaultMaxDecisionsPerStep,
		MaxEvidencePerStep:  DefaultMaxEvidencePerStep,
	}
}

// Check rejects a submission whose decision or evidence count exceeds the
// configured maximums. A zero limit means the default.
func (l Limits) Check(decisions, evidence int) error {
	maxDecisions := l.MaxDecisionsPerStep
	if maxDecisions == 0 {
		maxDecisions = DefaultMaxDecisionsPerStep
	}
	maxEvidence := l.MaxEvidencePerStep
	if maxEvidence == 0 {
		maxEvidence = DefaultMaxEvidencePerStep
	}

	if decisions > maxDecisions {
		return domain.ErrGuardrail("too many decisions: %d exceeds maximum of %d", decisions, maxDecisions)
	}
	if evidence > maxEvidence {
		return domain.ErrGuardrail("too many evidence items: %d exceeds maximum of %d", evidence, maxEvidence)
	}
	return nil
}
