package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pwnlabs/gymscout/internal/progress"
	"github.com/pwnlabs/gymscout/internal/publisher"
	"github.com/pwnlabs/gymscout/internal/sitegraph"
	"github.com/pwnlabs/gymscout/internal/ticket"
)

// ChallengeStatus summarizes how a challenge fared in the analysis phase.
type ChallengeStatus string

// Per-challenge statuses. Skipped covers leaves that never reached
// Extracted; Unsupported covers categories with no registered generator.
const (
	StatusAccepted    ChallengeStatus = "accepted"
	StatusExhausted   ChallengeStatus = "exhausted"
	StatusSkipped     ChallengeStatus = "skipped"
	StatusUnsupported ChallengeStatus = "unsupported"
	StatusError       ChallengeStatus = "error"
)

// ChallengeOutcome records the terminal state of one challenge.
type ChallengeOutcome struct {
	ChallengeID string             `json:"challenge_id"`
	Title       string             `json:"title"`
	URL         string             `json:"url"`
	Category    sitegraph.Category `json:"category"`
	Status      ChallengeStatus    `json:"status"`
	Iterations  int                `json:"iterations,omitempty"`
	TicketRef   string             `json:"ticket_ref,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// Report is the summary of one analysis run.
type Report struct {
	RunID    uuid.UUID          `json:"run_id"`
	Outcomes []ChallengeOutcome `json:"outcomes"`
	Elapsed  time.Duration      `json:"elapsed"`
}

// CountByStatus tallies outcomes per status.
func (r Report) CountByStatus(status ChallengeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// OrchestratorConfig tunes the analysis phase.
type OrchestratorConfig struct {
	// MaxConcurrent bounds flows running at once (default 2).
	MaxConcurrent int
	// Flow bounds each individual flow.
	Flow FlowConfig
	// KeepExhausted persists exhausted drafts as unvalidated tickets
	// instead of discarding them.
	KeepExhausted bool
	// CompletionTopic names the topic for finalized-ticket events.
	CompletionTopic string
}

// Orchestrator fans extracted challenges out to flows and finalizes
// tickets. One flow failing never stops the others.
type Orchestrator struct {
	cfg       OrchestratorConfig
	registry  Registry
	evaluator Evaluator
	sink      ticket.Sink
	pub       publisher.Publisher
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewOrchestrator wires the analysis phase. Sink is required; publisher and
// emitter may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	registry Registry,
	evaluator Evaluator,
	sink ticket.Sink,
	pub publisher.Publisher,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(registry) == 0 {
		return nil, errors.New("generator registry is empty")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if sink == nil {
		return nil, errors.New("ticket sink is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.CompletionTopic == "" {
		cfg.CompletionTopic = "gymscout.tickets"
	}
	if pub == nil {
		pub = publisher.Noop{}
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		evaluator: evaluator,
		sink:      sink,
		pub:       pub,
		emitter:   emitter,
		logger:    logger,
	}, nil
}

// Run analyzes every extracted challenge in the graph. The returned error
// is non-nil only for context cancellation; per-challenge problems land in
// the report.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, g *sitegraph.Graph) (Report, error) {
	start := time.Now()
	report := Report{RunID: runID}

	var mu sync.Mutex
	record := func(outcome ChallengeOutcome) {
		mu.Lock()
		defer mu.Unlock()
		report.Outcomes = append(report.Outcomes, outcome)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.MaxConcurrent)

	for _, challenge := range g.Challenges {
		c := challenge
		if c.Status != sitegraph.StatusExtracted || c.Markdown == "" {
			record(ChallengeOutcome{
				ChallengeID: c.ID, Title: c.Title, URL: c.URL, Category: c.Category,
				Status: StatusSkipped, Reason: "not extracted",
			})
			continue
		}
		generator, ok := o.registry.Lookup(c.Category)
		if !ok {
			record(ChallengeOutcome{
				ChallengeID: c.ID, Title: c.Title, URL: c.URL, Category: c.Category,
				Status: StatusUnsupported, Reason: "no generator for category",
			})
			continue
		}
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}
			record(o.analyze(groupCtx, runID, g, c, generator))
			return nil
		})
	}

	err := group.Wait()

	// Deterministic report order regardless of flow scheduling.
	sort.Slice(report.Outcomes, func(i, j int) bool {
		return report.Outcomes[i].URL < report.Outcomes[j].URL
	})
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, err
	}
	o.logger.Info("analysis finished",
		zap.Int("accepted", report.CountByStatus(StatusAccepted)),
		zap.Int("exhausted", report.CountByStatus(StatusExhausted)),
		zap.Int("skipped", report.CountByStatus(StatusSkipped)),
		zap.Int("unsupported", report.CountByStatus(StatusUnsupported)),
		zap.Int("errors", report.CountByStatus(StatusError)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (o *Orchestrator) analyze(ctx context.Context, runID uuid.UUID, g *sitegraph.Graph, c *sitegraph.Challenge, generator Generator) ChallengeOutcome {
	outcome := ChallengeOutcome{
		ChallengeID: c.ID,
		Title:       c.Title,
		URL:         c.URL,
		Category:    c.Category,
	}
	req := Request{
		ChallengeID: c.ID,
		Title:       c.Title,
		URL:         c.URL,
		Category:    c.Category,
		Markdown:    c.Markdown,
		Hints:       c.Hints,
	}

	o.emitter.Emit(progress.Event{
		RunID: runID, TS: time.Now().UTC(), Stage: progress.StageFlowStart,
		URL: c.URL, Category: string(c.Category),
	})
	flowStart := time.Now()

	flow, err := NewFlow(o.cfg.Flow, generator, o.evaluator, o.logger)
	if err != nil {
		outcome.Status = StatusError
		outcome.Reason = err.Error()
		return outcome
	}
	result, err := flow.Run(ctx, req)
	if err != nil {
		outcome.Status = StatusError
		outcome.Reason = err.Error()
		o.emitFlowDone(runID, c, string(StatusError), time.Since(flowStart))
		o.logger.Warn("analysis flow failed",
			zap.String("url", c.URL),
			zap.Error(err),
		)
		return outcome
	}

	outcome.Iterations = result.Iterations
	switch result.Outcome {
	case OutcomeAccepted:
		outcome.Status = StatusAccepted
	case OutcomeExhausted:
		outcome.Status = StatusExhausted
		if !o.cfg.KeepExhausted {
			outcome.Reason = "draft discarded by policy"
			o.emitFlowDone(runID, c, string(StatusExhausted), time.Since(flowStart))
			return outcome
		}
	}

	ref, err := o.finalize(ctx, g, c, result)
	if err != nil {
		outcome.Status = StatusError
		outcome.Reason = "finalize: " + err.Error()
		o.emitFlowDone(runID, c, string(StatusError), time.Since(flowStart))
		return outcome
	}
	outcome.TicketRef = ref
	o.emitFlowDone(runID, c, string(outcome.Status), time.Since(flowStart))
	return outcome
}

// finalize freezes the flow result into a ticket, persists it, and
// announces the completion.
func (o *Orchestrator) finalize(ctx context.Context, g *sitegraph.Graph, c *sitegraph.Challenge, result FlowResult) (string, error) {
	var moduleTitle, topicTitle string
	if module, ok := g.ModuleByID(c.ModuleID); ok {
		moduleTitle = module.Title
		if topic, ok := g.TopicByID(module.TopicID); ok {
			topicTitle = topic.Title
		}
	}

	tk := ticket.Ticket{
		ID:          uuid.NewString(),
		ChallengeID: c.ID,
		Title:       c.Title,
		URL:         c.URL,
		Topic:       topicTitle,
		Module:      moduleTitle,
		Category:    string(c.Category),
		Content:     result.Draft.Content,
		Validated:   result.Validated,
		Iterations:  result.Iterations,
		FinalizedAt: time.Now().UTC(),
	}
	ref, err := ticket.WriteWithRetry(ctx, o.sink, tk)
	if err != nil {
		return "", err
	}

	if _, err := o.pub.Publish(ctx, o.cfg.CompletionTopic, map[string]any{
		"ticket_id":    tk.ID,
		"challenge_id": tk.ChallengeID,
		"category":     tk.Category,
		"validated":    tk.Validated,
		"ref":          ref,
	}); err != nil {
		// The ticket is already durable; a lost announcement is logged,
		// not fatal.
		o.logger.Warn("publishing ticket completion", zap.Error(err))
	}
	return ref, nil
}

func (o *Orchestrator) emitFlowDone(runID uuid.UUID, c *sitegraph.Challenge, outcome string, dur time.Duration) {
	o.emitter.Emit(progress.Event{
		RunID: runID, TS: time.Now().UTC(), Stage: progress.StageFlowDone,
		URL: c.URL, Category: string(c.Category), Outcome: outcome, Dur: dur,
	})
}
