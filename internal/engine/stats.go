package engine

import "github.com/xraylite/xraylite/internal/domain"

// Stats holds the canonical step-level metrics, always computed over the
// complete pre-sampling decision set. They are never recomputed from a
// reduced set.
type Stats struct {
	InputCount       int            `json:"input_count"`
	OutputCount      int            `json:"output_count"`
	RejectionRate    float64        `json:"rejection_rate"`
	RejectionReasons map[string]int `json:"rejection_reasons"`
}

// ComputeStats computes counts and the rejection-reason breakdown over the
// full decision set. An empty set yields all-zero stats with a 0.0 rate.
func ComputeStats(decisions []domain.Decision) Stats {
	stats := Stats{RejectionReasons: map[string]int{}}
	if len(decisions) == 0 {
		return stats
	}

	var accepted, rejected int
	for _, d := range decisions {
		switch d.Type {
		case domain.DecisionAccepted:
			accepted++
		case domain.DecisionRejected:
			rejected++
			stats.RejectionReasons[d.RejectionReason()]++
		}
	}

	stats.InputCount = len(decisions)
	stats.OutputCount = accepted
	stats.RejectionRate = float64(rejected) / float64(len(decisions))
	return stats
}
