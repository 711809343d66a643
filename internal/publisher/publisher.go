// Package publisher defines the completion-event publisher used after a
// ticket is finalized, so downstream consumers can react without polling.
package publisher

import "context"

// Publisher sends a payload to a named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Noop discards publishes. Used when no broker is configured.
type Noop struct{}

// Publish drops the payload and returns an empty ID.
func (Noop) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
