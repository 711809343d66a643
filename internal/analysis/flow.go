package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// State names the positions of the flow state machine.
type State string

// Flow states. Accepted and Exhausted are terminal.
const (
	StateInit       State = "init"
	StateGenerating State = "generating"
	StateEvaluating State = "evaluating"
	StateRefining   State = "refining"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// Outcome is the terminal result of a flow.
type Outcome string

// Flow outcomes.
const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExhausted Outcome = "exhausted"
)

// FlowConfig bounds a single flow.
type FlowConfig struct {
	// MaxIterations caps generate/evaluate rounds (default 3).
	MaxIterations int
	// StepAttempts caps calls per step on transient errors (default 3).
	StepAttempts int
	// StepBaseDelay is the backoff base between step retries (default 1s).
	StepBaseDelay time.Duration
}

func (c FlowConfig) withDefaults() FlowConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.StepAttempts <= 0 {
		c.StepAttempts = 3
	}
	if c.StepBaseDelay <= 0 {
		c.StepBaseDelay = time.Second
	}
	return c
}

// FlowResult is the terminal record of one flow. Draft holds the accepted
// content, or the last rejected draft when the iteration budget ran out.
type FlowResult struct {
	Outcome    Outcome
	Draft      Draft
	Validated  bool
	Iterations int
	Feedback   []string
	States     []State
}

// Flow drives one challenge through the loop. It is not goroutine-safe;
// the orchestrator creates one per challenge.
type Flow struct {
	cfg       FlowConfig
	generator Generator
	evaluator Evaluator
	logger    *zap.Logger

	state    State
	feedback []string
	history  []State
}

// NewFlow builds a flow in the Init state.
func NewFlow(cfg FlowConfig, generator Generator, evaluator Evaluator, logger *zap.Logger) (*Flow, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Flow{
		cfg:       cfg.withDefaults(),
		generator: generator,
		evaluator: evaluator,
		logger:    logger,
		state:     StateInit,
	}
	f.history = append(f.history, StateInit)
	return f, nil
}

func (f *Flow) transition(next State) {
	f.state = next
	f.history = append(f.history, next)
}

// Run executes the loop until a terminal state. Once a draft is accepted
// its content is frozen; no further model calls happen. Step-retry
// exhaustion after a draft exists escalates the flow to Exhausted with
// that draft; an error is returned only when no draft was ever produced
// or the context ends.
func (f *Flow) Run(ctx context.Context, req Request) (FlowResult, error) {
	if f.state != StateInit {
		return FlowResult{}, fmt.Errorf("flow already ran (state %s)", f.state)
	}

	var last Draft
	for iteration := 1; ; iteration++ {
		f.transition(StateGenerating)
		content, err := f.stepGenerate(ctx, req, last)
		if err != nil {
			if last.Iteration > 0 && stepTransient(err) {
				return f.exhausted(req, last, iteration-1, err), nil
			}
			return f.failed(), fmt.Errorf("generate iteration %d: %w", iteration, err)
		}
		last = Draft{Content: content, Iteration: iteration}

		f.transition(StateEvaluating)
		verdict, err := f.stepEvaluate(ctx, req, last)
		if err != nil {
			if stepTransient(err) {
				return f.exhausted(req, last, iteration, err), nil
			}
			return f.failed(), fmt.Errorf("evaluate iteration %d: %w", iteration, err)
		}

		if verdict.Accepted {
			f.transition(StateAccepted)
			return FlowResult{
				Outcome:    OutcomeAccepted,
				Draft:      last,
				Validated:  true,
				Iterations: iteration,
				Feedback:   f.feedback,
				States:     f.history,
			}, nil
		}

		f.feedback = append(f.feedback, verdict.Feedback)
		if iteration >= f.cfg.MaxIterations {
			f.transition(StateExhausted)
			return FlowResult{
				Outcome:    OutcomeExhausted,
				Draft:      last,
				Validated:  false,
				Iterations: iteration,
				Feedback:   f.feedback,
				States:     f.history,
			}, nil
		}
		f.transition(StateRefining)
		f.logger.Debug("draft rejected, refining",
			zap.String("challenge", req.ChallengeID),
			zap.Int("iteration", iteration),
		)
	}
}

func (f *Flow) failed() FlowResult {
	return FlowResult{Feedback: f.feedback, States: f.history}
}

// exhausted seals the flow around the last surviving draft when a step's
// retry budget runs out. The draft already cost earlier model rounds; it is
// kept as an unvalidated result rather than thrown away with the outage.
func (f *Flow) exhausted(req Request, last Draft, iterations int, cause error) FlowResult {
	f.transition(StateExhausted)
	f.logger.Warn("step retries exhausted, keeping last draft",
		zap.String("challenge", req.ChallengeID),
		zap.Int("iterations", iterations),
		zap.Error(cause),
	)
	return FlowResult{
		Outcome:    OutcomeExhausted,
		Draft:      last,
		Validated:  false,
		Iterations: iterations,
		Feedback:   f.feedback,
		States:     f.history,
	}
}

func stepTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed)
}

func (f *Flow) stepGenerate(ctx context.Context, req Request, prior Draft) (string, error) {
	var content string
	err := f.withStepRetry(ctx, func() error {
		var err error
		content, err = f.generator.Generate(ctx, req, prior, f.feedback)
		return err
	})
	return content, err
}

func (f *Flow) stepEvaluate(ctx context.Context, req Request, draft Draft) (Verdict, error) {
	var verdict Verdict
	err := f.withStepRetry(ctx, func() error {
		var err error
		verdict, err = f.evaluator.Evaluate(ctx, req, draft)
		return err
	})
	return verdict, err
}

// withStepRetry retries transient step failures with exponential backoff.
// Non-transient errors propagate immediately.
func (f *Flow) withStepRetry(ctx context.Context, step func() error) error {
	var lastErr error
	for attempt := 0; attempt < f.cfg.StepAttempts; attempt++ {
		if attempt > 0 {
			delay := f.cfg.StepBaseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		lastErr = step()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrUnavailable) && !errors.Is(lastErr, ErrMalformed) {
			return lastErr
		}
	}
	return lastErr
}
