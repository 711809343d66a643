package analysis

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwnlabs/gymscout/internal/publisher/memory"
	"github.com/pwnlabs/gymscout/internal/sitegraph"
	"github.com/pwnlabs/gymscout/internal/ticket"
)

// stubGenerator accepts or keeps drafting depending on the challenge title.
type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req Request, _ Draft, _ []string) (string, error) {
	return "solution for " + req.Title, nil
}

// titleEvaluator rejects drafts whose challenge title contains "hard".
type titleEvaluator struct{}

func (titleEvaluator) Evaluate(_ context.Context, req Request, _ Draft) (Verdict, error) {
	if strings.Contains(strings.ToLower(req.Title), "hard") {
		return Verdict{Accepted: false, Feedback: "not convincing"}, nil
	}
	return Verdict{Accepted: true}, nil
}

type memorySink struct {
	mu      sync.Mutex
	tickets []ticket.Ticket
}

func (s *memorySink) Write(_ context.Context, t ticket.Ticket) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	return "mem://" + t.ID, nil
}

func (s *memorySink) Close() {}

func (s *memorySink) all() []ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ticket.Ticket(nil), s.tickets...)
}

// analysisGraph builds a graph with four leaves: two extracted crypto
// challenges (one easy, one that never passes review), one still-failed
// leaf, and one extracted leaf in a category with no generator.
func analysisGraph(t *testing.T) *sitegraph.Graph {
	t.Helper()
	g := sitegraph.New("https://gym.example.com/dashboard")

	topic, err := g.AddTopic("Cryptography", "https://gym.example.com/topics/crypto")
	require.NoError(t, err)
	module, err := g.AddModule(topic.ID, "Classical Ciphers", "https://gym.example.com/modules/classical")
	require.NoError(t, err)

	easy, err := g.AddChallenge(module.ID, "Caesar", "https://gym.example.com/challenges/caesar", sitegraph.CategoryCrypto)
	require.NoError(t, err)
	require.NoError(t, g.MarkChallengeCaptured(easy.ID, "mem://html", "mem://png", nil))
	require.NoError(t, g.MarkChallengeExtracted(easy.ID, "# Caesar"))

	hard, err := g.AddChallenge(module.ID, "Hard Cipher", "https://gym.example.com/challenges/hard", sitegraph.CategoryCrypto)
	require.NoError(t, err)
	require.NoError(t, g.MarkChallengeCaptured(hard.ID, "mem://html", "mem://png", nil))
	require.NoError(t, g.MarkChallengeExtracted(hard.ID, "# Hard Cipher"))

	broken, err := g.AddChallenge(module.ID, "Broken", "https://gym.example.com/challenges/broken", sitegraph.CategoryCrypto)
	require.NoError(t, err)
	require.NoError(t, g.MarkChallengeFailed(broken.ID))

	exotic, err := g.AddChallenge(module.ID, "Exotic", "https://gym.example.com/challenges/exotic", sitegraph.CategoryUncategorized)
	require.NoError(t, err)
	require.NoError(t, g.MarkChallengeCaptured(exotic.ID, "mem://html", "mem://png", nil))
	require.NoError(t, g.MarkChallengeExtracted(exotic.ID, "# Exotic"))

	return g
}

func newTestOrchestrator(t *testing.T, keepExhausted bool, sink ticket.Sink, pub *memory.Publisher) *Orchestrator {
	t.Helper()
	registry := Registry{sitegraph.CategoryCrypto: stubGenerator{}}
	orch, err := NewOrchestrator(
		OrchestratorConfig{
			MaxConcurrent: 2,
			Flow:          FlowConfig{MaxIterations: 2, StepAttempts: 2, StepBaseDelay: time.Millisecond},
			KeepExhausted: keepExhausted,
		},
		registry,
		titleEvaluator{},
		sink,
		pub,
		nil,
		nil,
	)
	require.NoError(t, err)
	return orch
}

func TestOrchestrator_MixedOutcomes(t *testing.T) {
	g := analysisGraph(t)
	sink := &memorySink{}
	pub := memory.New()
	orch := newTestOrchestrator(t, true, sink, pub)

	report, err := orch.Run(context.Background(), uuid.New(), g)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)

	byTitle := map[string]ChallengeOutcome{}
	for _, o := range report.Outcomes {
		byTitle[o.Title] = o
	}

	assert.Equal(t, StatusAccepted, byTitle["Caesar"].Status)
	assert.Equal(t, 1, byTitle["Caesar"].Iterations)
	assert.NotEmpty(t, byTitle["Caesar"].TicketRef)

	assert.Equal(t, StatusExhausted, byTitle["Hard Cipher"].Status)
	assert.Equal(t, 2, byTitle["Hard Cipher"].Iterations)
	assert.NotEmpty(t, byTitle["Hard Cipher"].TicketRef)

	assert.Equal(t, StatusSkipped, byTitle["Broken"].Status)
	assert.Equal(t, StatusUnsupported, byTitle["Exotic"].Status)

	tickets := sink.all()
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, "Classical Ciphers", tk.Module)
		assert.Equal(t, "Cryptography", tk.Topic)
		assert.False(t, tk.FinalizedAt.IsZero())
		if tk.Title == "Hard Cipher" {
			assert.False(t, tk.Validated)
		} else {
			assert.True(t, tk.Validated)
		}
	}

	assert.Len(t, pub.Messages(), 2)
}

func TestOrchestrator_DiscardExhaustedByPolicy(t *testing.T) {
	g := analysisGraph(t)
	sink := &memorySink{}
	orch := newTestOrchestrator(t, false, sink, memory.New())

	report, err := orch.Run(context.Background(), uuid.New(), g)
	require.NoError(t, err)

	byTitle := map[string]ChallengeOutcome{}
	for _, o := range report.Outcomes {
		byTitle[o.Title] = o
	}
	assert.Equal(t, StatusExhausted, byTitle["Hard Cipher"].Status)
	assert.Empty(t, byTitle["Hard Cipher"].TicketRef)

	tickets := sink.all()
	require.Len(t, tickets, 1)
	assert.Equal(t, "Caesar", tickets[0].Title)
}

func TestOrchestrator_FlowFailureIsIsolated(t *testing.T) {
	g := analysisGraph(t)
	sink := &memorySink{}

	// Every generation fails until the step budget runs out, so no crypto
	// flow ever has a draft to keep; skipped and unsupported outcomes are
	// untouched.
	registry := Registry{sitegraph.CategoryCrypto: failingGenerator{}}
	orch, err := NewOrchestrator(
		OrchestratorConfig{
			MaxConcurrent: 2,
			Flow:          FlowConfig{MaxIterations: 2, StepAttempts: 2, StepBaseDelay: time.Millisecond},
			KeepExhausted: true,
		},
		registry,
		titleEvaluator{},
		sink,
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), uuid.New(), g)
	require.NoError(t, err)

	assert.Equal(t, 2, report.CountByStatus(StatusError))
	assert.Equal(t, 1, report.CountByStatus(StatusSkipped))
	assert.Equal(t, 1, report.CountByStatus(StatusUnsupported))
	assert.Empty(t, sink.all())
}

func TestOrchestrator_EvaluatorOutagePersistsExhaustedDraft(t *testing.T) {
	g := analysisGraph(t)
	sink := &memorySink{}

	// Drafts exist before the evaluator goes down, so the flows end
	// exhausted and their best drafts are kept as unvalidated tickets.
	registry := Registry{sitegraph.CategoryCrypto: stubGenerator{}}
	orch, err := NewOrchestrator(
		OrchestratorConfig{
			MaxConcurrent: 2,
			Flow:          FlowConfig{MaxIterations: 2, StepAttempts: 2, StepBaseDelay: time.Millisecond},
			KeepExhausted: true,
		},
		registry,
		failingEvaluator{},
		sink,
		nil,
		nil,
		nil,
	)
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), uuid.New(), g)
	require.NoError(t, err)

	assert.Equal(t, 2, report.CountByStatus(StatusExhausted))
	assert.Equal(t, 0, report.CountByStatus(StatusError))

	tickets := sink.all()
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.False(t, tk.Validated)
		assert.NotEmpty(t, tk.Content)
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, Request, Draft, []string) (string, error) {
	return "", ErrUnavailable
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, Request, Draft) (Verdict, error) {
	return Verdict{}, ErrUnavailable
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{}, nil, titleEvaluator{}, &memorySink{}, nil, nil, nil)
	assert.Error(t, err)

	registry := Registry{sitegraph.CategoryCrypto: stubGenerator{}}
	_, err = NewOrchestrator(OrchestratorConfig{}, registry, nil, &memorySink{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewOrchestrator(OrchestratorConfig{}, registry, titleEvaluator{}, nil, nil, nil, nil)
	assert.Error(t, err)
}
