package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraylite/xraylite/internal/domain"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(DefaultLimits(), NewSampler())
}

func apiErrType(t *testing.T, err error) domain.ErrorType {
	t.Helper()
	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr), "expected *domain.APIError, got %v", err)
	return apiErr.Type
}

func TestCoordinator_AssignsSequenceFromSubmissionOrder(t *testing.T) {
	c := newTestCoordinator()

	sub := Submission{Decisions: makeDecisions(10, domain.DecisionAccepted, "", 0)}
	for i := range sub.Decisions {
		sub.Decisions[i].Sequence = 999 // client-supplied values are ignored
	}

	res, err := c.ProcessSeeded(sub, 1)
	require.NoError(t, err)

	for i, d := range res.Decisions {
		assert.Equal(t, i, d.Sequence)
	}
}

func TestCoordinator_GuardrailRejectsOversizedDecisions(t *testing.T) {
	c := NewCoordinator(Limits{MaxDecisionsPerStep: 5, MaxEvidencePerStep: 5}, NewSampler())

	_, err := c.Process(Submission{Decisions: makeDecisions(6, domain.DecisionAccepted, "", 0)})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeGuardrail, apiErrType(t, err))
}

func TestCoordinator_GuardrailRejectsOversizedEvidence(t *testing.T) {
	c := NewCoordinator(Limits{MaxDecisionsPerStep: 10, MaxEvidencePerStep: 2}, NewSampler())

	sub := Submission{
		Decisions: makeDecisions(3, domain.DecisionAccepted, "", 0),
		Evidence: []domain.Evidence{
			{Type: "llm_response"}, {Type: "llm_response"}, {Type: "llm_response"},
		},
	}
	_, err := c.Process(sub)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeGuardrail, apiErrType(t, err))
}

func TestCoordinator_RejectsUnknownDecisionType(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.Process(Submission{Decisions: []domain.Decision{{CandidateID: "c1", Type: "maybe"}}})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeInvalidRequest, apiErrType(t, err))
}

func TestCoordinator_EmptySubmission(t *testing.T) {
	c := newTestCoordinator()

	res, err := c.Process(Submission{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Stats.InputCount)
	assert.Equal(t, 0.0, res.Stats.RejectionRate)
	assert.Equal(t, SamplingSummary{Total: 0, Kept: 0, Sampled: false}, res.Summary)
	assert.Empty(t, res.Decisions)
}

func TestCoordinator_EvidenceWithoutDecisions(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.Process(Submission{Evidence: []domain.Evidence{{Type: "llm_response"}}})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeEvidenceBinding, apiErrType(t, err))
}

func TestCoordinator_EvidenceExceedsDecisions(t *testing.T) {
	c := newTestCoordinator()

	sub := Submission{
		Decisions: makeDecisions(2, domain.DecisionAccepted, "", 0),
		Evidence: []domain.Evidence{
			{Type: "llm_response"}, {Type: "llm_response"}, {Type: "llm_response"},
		},
	}
	_, err := c.Process(sub)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeEvidenceBinding, apiErrType(t, err))
}

func TestCoordinator_PositionalBindingLeavesRemainderUnbound(t *testing.T) {
	c := newTestCoordinator()

	sub := Submission{
		Decisions: makeDecisions(3, domain.DecisionAccepted, "", 0),
		Evidence:  []domain.Evidence{{Type: "llm_response"}, {Type: "score_trace"}},
	}
	res, err := c.Process(sub)
	require.NoError(t, err)

	require.Len(t, res.Decisions, 3)
	require.NotNil(t, res.Decisions[0].Evidence)
	assert.Equal(t, "llm_response", res.Decisions[0].Evidence.Type)
	require.NotNil(t, res.Decisions[1].Evidence)
	assert.Equal(t, "score_trace", res.Decisions[1].Evidence.Type)
	assert.Nil(t, res.Decisions[2].Evidence)
}

func TestCoordinator_KeyedBindingSurvivesSampling(t *testing.T) {
	limits := DefaultLimits()
	c := NewCoordinator(limits, Sampler{Threshold: 100, PerReason: 10})

	// 200 rejections with one reason: only 10 survive. Evidence keyed to
	// the final decision always finds its target because accepted
	// decisions are never dropped.
	decisions := append(makeDecisions(200, domain.DecisionRejected, "price", 0),
		makeDecisions(1, domain.DecisionAccepted, "", 200)...)

	acceptedSeq := 200
	badSeq := 500
	sub := Submission{
		Decisions: decisions,
		Evidence: []domain.Evidence{
			{Type: "llm_response", DecisionSequence: &acceptedSeq},
		},
	}

	res, err := c.ProcessSeeded(sub, 7)
	require.NoError(t, err)

	last := res.Decisions[len(res.Decisions)-1]
	assert.Equal(t, acceptedSeq, last.Sequence)
	require.NotNil(t, last.Evidence)
	assert.Equal(t, "llm_response", last.Evidence.Type)

	// Out-of-range sequence is an input error.
	sub.Evidence = []domain.Evidence{{Type: "llm_response", DecisionSequence: &badSeq}}
	_, err = c.ProcessSeeded(sub, 7)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeEvidenceBinding, apiErrType(t, err))
}

func TestCoordinator_KeyedBindingDropsSampledOutTargets(t *testing.T) {
	c := NewCoordinator(DefaultLimits(), Sampler{Threshold: 10, PerReason: 1})

	decisions := makeDecisions(50, domain.DecisionRejected, "price", 0)
	evidence := make([]domain.Evidence, 50)
	for i := range evidence {
		seq := i
		evidence[i] = domain.Evidence{Type: "llm_response", DecisionSequence: &seq}
	}

	res, err := c.ProcessSeeded(Submission{Decisions: decisions, Evidence: evidence}, 3)
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	require.NotNil(t, res.Decisions[0].Evidence)
	assert.Equal(t, 49, res.DroppedEvidence)
}

func TestCoordinator_StatsAndSummaryForSampledStep(t *testing.T) {
	c := newTestCoordinator()

	sub := Submission{
		Decisions: append(makeDecisions(9000, domain.DecisionRejected, "low_score", 0),
			makeDecisions(1000, domain.DecisionAccepted, "", 9000)...),
	}

	res, err := c.ProcessSeeded(sub, 21)
	require.NoError(t, err)

	assert.Equal(t, 10000, res.Stats.InputCount)
	assert.Equal(t, 1000, res.Stats.OutputCount)
	assert.InDelta(t, 0.9, res.Stats.RejectionRate, 1e-9)
	assert.Equal(t, SamplingSummary{Total: 10000, Kept: 1050, Sampled: true}, res.Summary)
	assert.Len(t, res.Decisions, 1050)
}

func TestCoordinator_Deterministic(t *testing.T) {
	c := newTestCoordinator()

	sub := Submission{Decisions: makeDecisions(2000, domain.DecisionRejected, "price", 0)}

	a, err := c.ProcessSeeded(sub, 55)
	require.NoError(t, err)
	b, err := c.ProcessSeeded(sub, 55)
	require.NoError(t, err)

	for i := range a.Decisions {
		assert.Equal(t, a.Decisions[i].Sequence, b.Decisions[i].Sequence)
	}
}
