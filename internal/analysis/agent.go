// Package analysis runs each extracted challenge through a bounded
// generate, evaluate, refine loop and finalizes the result as a ticket.
package analysis

import (
	"context"
	"errors"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

// ErrUnavailable wraps transient model failures. Steps retry these with
// backoff before the flow gives up.
var ErrUnavailable = errors.New("model unavailable")

// ErrMalformed marks model output that could not be parsed into the
// expected shape. Treated like a transient failure at the step level.
var ErrMalformed = errors.New("malformed model output")

// Request carries everything an agent needs about one challenge.
type Request struct {
	ChallengeID string
	Title       string
	URL         string
	Category    sitegraph.Category
	Markdown    string
	Hints       []string
}

// Draft is one candidate solution produced by a generator. Iteration is
// 1-based.
type Draft struct {
	Content   string
	Iteration int
}

// Verdict is an evaluator's judgment of a draft. Feedback is only set on
// rejection and feeds the next refinement.
type Verdict struct {
	Accepted bool
	Feedback string
}

// Generator produces a draft solution. On refinement rounds the prior
// rejected draft and the accumulated feedback (oldest first) are provided;
// on the first round both are zero.
type Generator interface {
	Generate(ctx context.Context, req Request, prior Draft, feedback []string) (string, error)
}

// Evaluator judges a draft against the challenge description.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request, draft Draft) (Verdict, error)
}

// Registry maps challenge categories to their generator. Categories
// without an entry are reported as unsupported and skipped.
type Registry map[sitegraph.Category]Generator

// Lookup returns the generator for a category.
func (r Registry) Lookup(category sitegraph.Category) (Generator, bool) {
	g, ok := r[category]
	return g, ok
}
