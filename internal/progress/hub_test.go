package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(stage Stage) Event {
	return Event{
		RunID: uuid.New(),
		TS:    time.Now().UTC(),
		Stage: stage,
		URL:   "https://gym.example.com/challenges/caesar",
	}
}

func TestHub_DeliversEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(validEvent(StageRunStart))
	hub.Emit(validEvent(StagePageFetched))

	require.NoError(t, hub.Close(context.Background()))
	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, StageRunStart, events[0].Stage)
	assert.Equal(t, StagePageFetched, events[1].Stage)
	assert.True(t, sink.closed)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StagePageFetched}) // no run id, no timestamp

	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.snapshot())
}

func TestHub_EmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageRunDone))
	assert.Empty(t, sink.snapshot())
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid page event", func(*Event) {}, false},
		{"missing run id", func(e *Event) { e.RunID = uuid.Nil }, true},
		{"missing timestamp", func(e *Event) { e.TS = time.Time{} }, true},
		{"page event without url", func(e *Event) { e.URL = "" }, true},
		{"unknown stage", func(e *Event) { e.Stage = "WAT" }, true},
		{"negative duration", func(e *Event) { e.Dur = -time.Second }, true},
		{"flow done without outcome", func(e *Event) {
			e.Stage = StageFlowDone
			e.Outcome = ""
		}, true},
		{"flow done with outcome", func(e *Event) {
			e.Stage = StageFlowDone
			e.Outcome = "accepted"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := validEvent(StagePageFetched)
			tt.mutate(&evt)
			err := evt.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
