// Package progress provides the event primitives, non-blocking hub, and
// sink interfaces used to report crawl and analysis milestones. Events are
// batched on a background goroutine and fanned out to pluggable sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StagePageFetched   Stage = "PAGE_FETCHED"
	StagePageFailed    Stage = "PAGE_FAILED"
	StagePageExtracted Stage = "PAGE_EXTRACTED"
	StageFlowStart     Stage = "FLOW_START"
	StageFlowDone      Stage = "FLOW_DONE"
)

// Event captures a single milestone of a crawl or analysis run.
type Event struct {
	// RunID identifies the run this event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Level scopes page events to the tree depth (topic, module, challenge).
	Level string
	// URL is the page URL for page events.
	URL string
	// Category scopes flow events to a challenge category.
	Category string
	// Outcome carries the terminal state for flow and run completions.
	Outcome string
	// Attempt is the attempt number that produced the milestone, 1-based.
	Attempt int
	// Dur captures elapsed time for fetches, flows, and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageFetched, StagePageFailed, StagePageExtracted:
		if e.URL == "" {
			return errors.New("page events require a url")
		}
	case StageFlowStart:
	case StageFlowDone:
		if e.Outcome == "" {
			return errors.New("flow done requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
