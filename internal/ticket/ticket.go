// Package ticket defines the analysis artifact and the sinks that persist
// it. A ticket is immutable once finalized; sinks must not mutate it.
package ticket

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrIO wraps transient sink failures. Writers retry such failures once
// before giving up.
var ErrIO = errors.New("ticket write failed")

// Ticket is the finalized artifact of one analysis flow.
type Ticket struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challenge_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Topic       string    `json:"topic"`
	Module      string    `json:"module"`
	Category    string    `json:"category"`
	Content     string    `json:"content"`
	Validated   bool      `json:"validated"`
	Iterations  int       `json:"iterations"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Sink persists tickets and returns a stable reference to the written
// artifact.
type Sink interface {
	Write(ctx context.Context, t Ticket) (string, error)
	Close()
}

// WriteWithRetry writes a ticket, retrying exactly once when the sink
// reports a transient failure.
func WriteWithRetry(ctx context.Context, sink Sink, t Ticket) (string, error) {
	ref, err := sink.Write(ctx, t)
	if err == nil || !errors.Is(err, ErrIO) {
		return ref, err
	}
	return sink.Write(ctx, t)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a filesystem- and URL-safe name from a ticket title.
func Slug(title string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}
