package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pwnlabs/gymscout/internal/progress"
)

// PrometheusSink exports crawl and analysis progress via Prometheus. It owns
// the collectors for runs, page fetches, and analysis flow outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages         *prometheus.CounterVec
	pageDuration  *prometheus.HistogramVec
	flowsStarted  *prometheus.CounterVec
	flowOutcomes  *prometheus.CounterVec
	flowDurations *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymscout_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymscout_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gymscout_runs_active",
			Help: "Current number of active runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gymscout_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymscout_pages_total",
			Help: "Page milestones partitioned by tree level and result.",
		}, []string{"level", "result"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gymscout_page_duration_seconds",
			Help:    "Page fetch duration partitioned by tree level.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"level"}),
		flowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymscout_flows_started_total",
			Help: "Analysis flows started partitioned by category.",
		}, []string{"category"}),
		flowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymscout_flows_completed_total",
			Help: "Analysis flow completions partitioned by category and outcome.",
		}, []string{"category", "outcome"}),
		flowDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gymscout_flow_duration_seconds",
			Help:    "Analysis flow duration partitioned by outcome.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.pages,
		s.pageDuration,
		s.flowsStarted,
		s.flowOutcomes,
		s.flowDurations,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StagePageFetched:
		s.observePage(evt, "fetched")
	case progress.StagePageExtracted:
		s.observePage(evt, "extracted")
	case progress.StagePageFailed:
		s.observePage(evt, "failed")
	case progress.StageFlowStart:
		s.flowsStarted.WithLabelValues(labelOr(evt.Category, "uncategorized")).Inc()
	case progress.StageFlowDone:
		s.flowOutcomes.WithLabelValues(labelOr(evt.Category, "uncategorized"), evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.flowDurations.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observePage(evt progress.Event, result string) {
	level := labelOr(evt.Level, "unknown")
	s.pages.WithLabelValues(level, result).Inc()
	if result == "fetched" && evt.Dur > 0 {
		s.pageDuration.WithLabelValues(level).Observe(evt.Dur.Seconds())
	}
}

func labelOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
