package engine

import (
	"math/rand"
	"sort"

	"github.com/xraylite/xraylite/internal/domain"
)

// Default sampling configuration.
const (
	DefaultSampleThreshold = 500
	DefaultPerReasonCap    = 50
)

// Sampler reduces an oversized decision set to a bounded one while
// preserving debugging value: every accepted and pending decision is kept,
// and rejections are capped per rejection reason so a dominant reason
// cannot crowd out rarer ones.
type Sampler struct {
	// Threshold is the set size above which sampling kicks in.
	// Threshold 0 forces sampling on every non-empty set.
	Threshold int

	// PerReason caps how many rejected decisions survive per reason.
	PerReason int
}

// NewSampler returns a sampler with the default threshold and per-reason cap.
func NewSampler() Sampler {
	return Sampler{Threshold: DefaultSampleThreshold, PerReason: DefaultPerReasonCap}
}

// Sample returns a reduced decision set and whether reduction occurred.
//
// Sets at or under the threshold pass through untouched, preserving slice
// identity and order. Otherwise the set is partitioned into accepted,
// pending, and rejected-by-reason groups; accepted and pending are kept
// whole, each reason group is uniformly sampled down to PerReason when it
// exceeds the cap, and the result is re-sorted by the caller-assigned
// Sequence so the output reflects original submission order rather than
// grouping order.
//
// The seed feeds a per-invocation generator, so concurrent calls never
// share random state and a given seed reproduces its sample exactly.
func (s Sampler) Sample(decisions []domain.Decision, seed int64) ([]domain.Decision, bool) {
	if len(decisions) <= s.Threshold {
		return decisions, false
	}

	var accepted, pending []domain.Decision
	byReason := map[string][]domain.Decision{}
	var reasonOrder []string

	for _, d := range decisions {
		switch d.Type {
		case domain.DecisionAccepted:
			accepted = append(accepted, d)
		case domain.DecisionRejected:
			reason := d.RejectionReason()
			if _, seen := byReason[reason]; !seen {
				reasonOrder = append(reasonOrder, reason)
			}
			byReason[reason] = append(byReason[reason], d)
		default:
			pending = append(pending, d)
		}
	}

	rng := rand.New(rand.NewSource(seed))

	kept := make([]domain.Decision, 0, len(accepted)+len(pending))
	kept = append(kept, accepted...)
	for _, reason := range reasonOrder {
		kept = append(kept, sampleGroup(rng, byReason[reason], s.PerReason)...)
	}
	kept = append(kept, pending...)

	// Grouping destroyed the original order; the Sequence assigned at
	// submission time is the only valid ordering key.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Sequence < kept[j].Sequence
	})

	return kept, true
}

// sampleGroup draws a uniform sample of exactly limit items without
// replacement. Groups at or under the limit are kept whole, with no
// randomness consumed.
func sampleGroup(rng *rand.Rand, group []domain.Decision, limit int) []domain.Decision {
	if len(group) <= limit {
		return group
	}
	picked := make([]domain.Decision, 0, limit)
	for _, idx := range rng.Perm(len(group))[:limit] {
		picked = append(picked, group[idx])
	}
	return picked
}
