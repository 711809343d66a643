package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

type scriptedGenerator struct {
	calls     int
	drafts    []string
	failFirst int // transient failures before the first success
	failAfter int // rounds that succeed before every call fails, 0 = never fail
	seen      [][]string
	priors    []Draft
}

func (g *scriptedGenerator) Generate(_ context.Context, _ Request, prior Draft, feedback []string) (string, error) {
	if g.failFirst > 0 {
		g.failFirst--
		return "", fmt.Errorf("%w: 503", ErrUnavailable)
	}
	if g.failAfter > 0 && g.calls >= g.failAfter {
		return "", fmt.Errorf("%w: 503", ErrUnavailable)
	}
	g.seen = append(g.seen, append([]string(nil), feedback...))
	g.priors = append(g.priors, prior)
	draft := g.drafts[min(g.calls, len(g.drafts)-1)]
	g.calls++
	return draft, nil
}

type scriptedEvaluator struct {
	calls    int
	verdicts []Verdict
	errs     []error
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, _ Request, _ Draft) (Verdict, error) {
	i := min(e.calls, len(e.verdicts)-1)
	e.calls++
	if e.errs != nil && e.errs[i] != nil {
		return Verdict{}, e.errs[i]
	}
	return e.verdicts[i], nil
}

func testRequest() Request {
	return Request{
		ChallengeID: "challenge-1",
		Title:       "Caesar",
		URL:         "https://gym.example.com/challenges/caesar",
		Category:    sitegraph.CategoryCrypto,
		Markdown:    "# Caesar\n\nDecrypt the message.",
	}
}

func fastFlowConfig() FlowConfig {
	return FlowConfig{MaxIterations: 3, StepAttempts: 3, StepBaseDelay: time.Millisecond}
}

func TestFlow_AcceptFirstIteration(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft one"}}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Accepted: true}}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.True(t, result.Validated)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "draft one", result.Draft.Content)
	assert.Empty(t, result.Feedback)
	assert.Equal(t, []State{StateInit, StateGenerating, StateEvaluating, StateAccepted}, result.States)

	// Accepted content is frozen; no further model calls happened.
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, eval.calls)
}

func TestFlow_RefineThenAccept(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft one", "draft two"}}
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Accepted: false, Feedback: "name the cipher"},
		{Accepted: true},
	}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, "draft two", result.Draft.Content)
	assert.Equal(t, []string{"name the cipher"}, result.Feedback)

	// The refinement round saw the rejected draft and its feedback.
	require.Len(t, gen.seen, 2)
	assert.Empty(t, gen.seen[0])
	assert.Equal(t, []string{"name the cipher"}, gen.seen[1])
	require.Len(t, gen.priors, 2)
	assert.Empty(t, gen.priors[0].Content)
	assert.Equal(t, "draft one", gen.priors[1].Content)
}

func TestFlow_ExhaustsAtMaxIterations(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"d1", "d2", "d3"}}
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Accepted: false, Feedback: "fb1"},
		{Accepted: false, Feedback: "fb2"},
		{Accepted: false, Feedback: "fb3"},
	}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.False(t, result.Validated)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, "d3", result.Draft.Content)
	assert.Equal(t, []string{"fb1", "fb2", "fb3"}, result.Feedback)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, 3, eval.calls)
	assert.Equal(t, StateExhausted, result.States[len(result.States)-1])
}

func TestFlow_StepRetryRecoversTransientFailure(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft"}, failFirst: 2}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Accepted: true}}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestFlow_StepExhaustionWithoutDraftFailsFlow(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft"}, failFirst: 10}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Accepted: true}}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	// The very first draft never materializes; there is nothing to keep.
	_, err = flow.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFlow_EvaluatorOutageKeepsLastDraft(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft one"}}
	eval := &scriptedEvaluator{
		verdicts: []Verdict{{}},
		errs:     []error{fmt.Errorf("%w: 503", ErrUnavailable)},
	}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.False(t, result.Validated)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "draft one", result.Draft.Content)
	assert.Equal(t, StateExhausted, result.States[len(result.States)-1])
}

func TestFlow_GeneratorOutageKeepsPriorDraft(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft one"}, failAfter: 1}
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Accepted: false, Feedback: "more detail"},
	}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	// The refinement round's generator never recovers; the rejected draft
	// from round one survives as the exhausted result.
	result, err := flow.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "draft one", result.Draft.Content)
	assert.Equal(t, []string{"more detail"}, result.Feedback)
}

func TestFlow_PermanentErrorSkipsRetry(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft"}}
	eval := &scriptedEvaluator{
		verdicts: []Verdict{{}},
		errs:     []error{fmt.Errorf("content policy rejection")},
	}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	_, err = flow.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 1, eval.calls)
}

func TestFlow_CannotRunTwice(t *testing.T) {
	gen := &scriptedGenerator{drafts: []string{"draft"}}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Accepted: true}}}
	flow, err := NewFlow(fastFlowConfig(), gen, eval, nil)
	require.NoError(t, err)

	_, err = flow.Run(context.Background(), testRequest())
	require.NoError(t, err)
	_, err = flow.Run(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict("VERDICT: ACCEPT")
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	v, err = parseVerdict("verdict: accept\nlooks good")
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	v, err = parseVerdict("VERDICT: REVISE\nThe hash mode is wrong.")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, "The hash mode is wrong.", v.Feedback)

	_, err = parseVerdict("VERDICT: REVISE")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = parseVerdict("Sure, here is my assessment")
	assert.ErrorIs(t, err, ErrMalformed)
}
