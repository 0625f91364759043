package xray

import "time"

// Decision is one candidate outcome submitted with a step. Sequence is
// assigned server-side from submission order.
type Decision struct {
	CandidateID string         `json:"candidate_id"`
	Type        string         `json:"decision_type"`
	Reason      string         `json:"reason,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitzero"`
}

// Evidence is a supporting payload submitted alongside decisions. When
// DecisionSequence is set on every item, evidence binds to the decision
// at that submission index; otherwise binding is positional.
type Evidence struct {
	Type             string         `json:"evidence_type"`
	Data             map[string]any `json:"data,omitempty"`
	DecisionSequence *int           `json:"decision_sequence,omitempty"`
}

// Accepted builds an accepted decision.
func Accepted(candidateID string, score float64) Decision {
	return Decision{CandidateID: candidateID, Type: "accepted", Score: &score}
}

// Rejected builds a rejected decision with a reason.
func Rejected(candidateID, reason string) Decision {
	return Decision{CandidateID: candidateID, Type: "rejected", Reason: reason}
}

// Pending builds a pending decision.
func Pending(candidateID string) Decision {
	return Decision{CandidateID: candidateID, Type: "pending"}
}

// Step is one pipeline stage to record.
type Step struct {
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Decisions []Decision     `json:"decisions,omitempty"`
	Evidence  []Evidence     `json:"evidence,omitempty"`
}

// Stats are the pre-sampling metrics computed for a step.
type Stats struct {
	InputCount       int            `json:"input_count"`
	OutputCount      int            `json:"output_count"`
	RejectionRate    float64        `json:"rejection_rate"`
	RejectionReasons map[string]int `json:"rejection_reasons,omitempty"`
}

// SamplingSummary reports how a step's decision set was reduced.
type SamplingSummary struct {
	Total   int  `json:"total"`
	Kept    int  `json:"kept"`
	Sampled bool `json:"sampled"`
}

// StepResult acknowledges a recorded step.
type StepResult struct {
	StepID          string           `json:"step_id"`
	Stats           *Stats           `json:"stats,omitempty"`
	SamplingSummary *SamplingSummary `json:"sampling_summary,omitempty"`
}

// RunSummary is the list-view projection of a run.
type RunSummary struct {
	ID           string     `json:"id"`
	PipelineType string     `json:"pipeline_type"`
	Name         string     `json:"name,omitempty"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunList is a page of runs.
type RunList struct {
	Runs     []RunSummary `json:"runs"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// StoredDecision is a decision as persisted and returned by queries.
type StoredDecision struct {
	ID            string         `json:"id"`
	StepID        string         `json:"step_id,omitempty"`
	CandidateID   string         `json:"candidate_id"`
	DecisionType  string         `json:"decision_type"`
	Reason        string         `json:"reason,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	SequenceOrder int            `json:"sequence_order,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// StepDetail is a step as returned inside a run.
type StepDetail struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	SequenceOrder int              `json:"sequence_order"`
	Input         map[string]any   `json:"input,omitempty"`
	Output        map[string]any   `json:"output,omitempty"`
	Config        map[string]any   `json:"config,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty"`
	Stats         *Stats           `json:"stats,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Decisions     []StoredDecision `json:"decisions,omitempty"`
}

// RunDetail is a run with its ordered steps.
type RunDetail struct {
	ID           string         `json:"id"`
	PipelineType string         `json:"pipeline_type"`
	Name         string         `json:"name,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Steps        []StepDetail   `json:"steps"`
}

// StepDecisionList is a page of one step's stored decisions.
type StepDecisionList struct {
	StepID    string           `json:"step_id"`
	StepName  string           `json:"step_name"`
	Decisions []StoredDecision `json:"decisions"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
}

// StepQuery selects steps across runs.
type StepQuery struct {
	PipelineType     string     `json:"pipeline_type,omitempty"`
	StepName         string     `json:"step_name,omitempty"`
	MinRejectionRate *float64   `json:"min_rejection_rate,omitempty"`
	MaxRejectionRate *float64   `json:"max_rejection_rate,omitempty"`
	DateFrom         *time.Time `json:"date_from,omitempty"`
	DateTo           *time.Time `json:"date_to,omitempty"`
	Limit            int        `json:"limit,omitempty"`
	Offset           int        `json:"offset,omitempty"`
}

// StepQueryResult lists steps matching a cross-run query.
type StepQueryResult struct {
	Steps []struct {
		ID        string    `json:"id"`
		RunID     string    `json:"run_id"`
		Name      string    `json:"name"`
		Stats     *Stats    `json:"stats,omitempty"`
		Reasoning string    `json:"reasoning,omitempty"`
		StartedAt time.Time `json:"started_at"`
	} `json:"steps"`
	Count int `json:"count"`
}

// DecisionQuery selects decisions across steps.
type DecisionQuery struct {
	CandidateID  string `json:"candidate_id,omitempty"`
	DecisionType string `json:"decision_type,omitempty"`
	Reason       string `json:"reason,omitempty"`
	StepName     string `json:"step_name,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// DecisionQueryResult lists decisions matching a cross-run query.
type DecisionQueryResult struct {
	Decisions []StoredDecision `json:"decisions"`
	Count     int              `json:"count"`
}
