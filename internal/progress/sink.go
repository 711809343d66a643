package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor the
// context deadline and may be called concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies this interface so the
// crawl engine and the analysis orchestrator stay agnostic about buffering.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit drops the event.
func (NopEmitter) Emit(Event) {}
