package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
)

// PrometheusSink exports comparison-run metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-role visit counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	visits        *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	mismatches    *prometheus.CounterVec
	visitDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webdiff_runs_started_total",
			Help: "Total comparison runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webdiff_runs_completed_total",
			Help: "Total comparison runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webdiff_runs_running",
			Help: "Current number of running comparison runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webdiff_run_runtime_seconds",
			Help:    "Wall time per completed comparison run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		visits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webdiff_visits_total",
			Help: "Completed visits partitioned by role and status class.",
		}, []string{"role", "status_class"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webdiff_visit_cancellations_total",
			Help: "Cancelled visits partitioned by role and reason.",
		}, []string{"role", "reason"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webdiff_mismatches_total",
			Help: "Detected divergences partitioned by role and kind.",
		}, []string{"role", "kind"}),
		visitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webdiff_visit_duration_seconds",
			Help:    "Visit duration partitioned by role.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"role"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.visits,
		s.cancellations,
		s.mismatches,
		s.visitDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageVisitDone:
		s.handleVisitEvent(evt)
	case progress.StageVisitCancelled:
		s.cancellations.WithLabelValues(roleLabel(evt), evt.Reason).Inc()
	case progress.StageMismatch:
		s.mismatches.WithLabelValues(roleLabel(evt), evt.Reason).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleVisitEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.ClassifyStatus(evt.Status))
	}
	s.visits.WithLabelValues(roleLabel(evt), statusClass).Inc()
	if evt.Dur > 0 {
		s.visitDuration.WithLabelValues(roleLabel(evt)).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func roleLabel(evt progress.Event) string {
	if evt.Role == "" {
		return "unknown"
	}
	return evt.Role
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
