package engine

import (
	"github.com/xraylite/xraylite/internal/domain"
)

// BoundDecision is a post-sampling decision together with the evidence
// record bound to it, if any.
type BoundDecision struct {
	domain.Decision
	Evidence *domain.Evidence
}

// bindEvidence attaches evidence records to the post-sampling decision
// list and returns the bound set plus the number of evidence items
// dropped because their target decision was sampled out.
//
// Two binding modes exist. When every evidence item names a
// DecisionSequence, binding is by that stable pre-sampling identity;
// evidence whose target did not survive sampling is dropped. Otherwise
// binding is positional: evidence[i] goes to decision[i], evidence with no
// decisions at all is an input error, and more evidence than decisions is
// an ambiguous-binding input error.
func bindEvidence(decisions []domain.Decision, evidence []domain.Evidence, submitted int) ([]BoundDecision, int, error) {
	bound := make([]BoundDecision, len(decisions))
	for i, d := range decisions {
		bound[i] = BoundDecision{Decision: d}
	}

	if len(evidence) == 0 {
		return bound, 0, nil
	}
	if len(decisions) == 0 {
		return nil, 0, domain.ErrEvidenceBinding("evidence provided but no decisions to attach to")
	}

	if keyed(evidence) {
		return bindBySequence(bound, evidence, submitted)
	}

	if len(evidence) > len(decisions) {
		return nil, 0, domain.ErrEvidenceBinding(
			"evidence count %d exceeds decision count %d; provide one evidence per decision",
			len(evidence), len(decisions))
	}
	for i := range evidence {
		bound[i].Evidence = &evidence[i]
	}
	return bound, 0, nil
}

// keyed reports whether every evidence item names a target sequence.
func keyed(evidence []domain.Evidence) bool {
	for _, e := range evidence {
		if e.DecisionSequence == nil {
			return false
		}
	}
	return true
}

func bindBySequence(bound []BoundDecision, evidence []domain.Evidence, submitted int) ([]BoundDecision, int, error) {
	bySeq := make(map[int]*BoundDecision, len(bound))
	for i := range bound {
		bySeq[bound[i].Sequence] = &bound[i]
	}

	dropped := 0
	for i := range evidence {
		seq := *evidence[i].DecisionSequence
		if seq < 0 || seq >= submitted {
			return nil, 0, domain.ErrEvidenceBinding(
				"evidence references decision_sequence %d outside submitted range [0, %d)", seq, submitted)
		}
		target, ok := bySeq[seq]
		if !ok {
			// Target decision was sampled out; the evidence goes with it.
			dropped++
			continue
		}
		if target.Evidence != nil {
			return nil, 0, domain.ErrEvidenceBinding(
				"multiple evidence items reference decision_sequence %d", seq)
		}
		target.Evidence = &evidence[i]
	}
	return bound, dropped, nil
}
