package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/racing-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the run
// counters and the per-site target, record and sink-result collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	targets        *prometheus.CounterVec
	targetDuration *prometheus.HistogramVec
	records        *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
	unrecognized   *prometheus.CounterVec
	noTracks       *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racecrawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_runs_completed_total",
			Help: "Total crawl runs finished, partitioned by status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "racecrawler_runs_running",
			Help: "Current number of running crawls.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "racecrawler_run_duration_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"site"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_targets_total",
			Help: "Finished targets partitioned by site, role and outcome.",
		}, []string{"site", "role", "outcome"}),
		targetDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "racecrawler_target_duration_seconds",
			Help:    "Target latency including pause, render and extraction.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10, 20, 40, 60},
		}, []string{"site", "role"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_records_total",
			Help: "Records acknowledged by the sink, partitioned by site and type.",
		}, []string{"site", "type"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_duplicates_total",
			Help: "Records skipped as duplicates.",
		}, []string{"site"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_persist_errors_total",
			Help: "Records the sink failed to persist.",
		}, []string{"site"}),
		unrecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_unrecognized_tables_total",
			Help: "Tables no classifier rule matched.",
		}, []string{"site"}),
		noTracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racecrawler_no_tracks_total",
			Help: "Dates where no track produced entries.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.targets,
		s.targetDuration,
		s.records,
		s.duplicates,
		s.persistErrors,
		s.unrecognized,
		s.noTracks,
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
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone, progress.StageRunError:
		status := evt.Note
		if evt.Stage == progress.StageRunError || status == "" {
			status = "failed"
		}
		s.runsCompleted.WithLabelValues(status).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageNoTracks:
		s.noTracks.WithLabelValues(site).Inc()
	case progress.StageTargetDone:
		s.handleTargetEvent(site, evt)
	}
}

func (s *PrometheusSink) handleTargetEvent(site string, evt progress.Event) {
	s.targets.WithLabelValues(site, evt.Role, evt.Outcome).Inc()
	if evt.Dur > 0 {
		s.targetDuration.WithLabelValues(site, evt.Role).Observe(evt.Dur.Seconds())
	}
	for typ, n := range evt.Records {
		if n > 0 {
			s.records.WithLabelValues(site, typ).Add(float64(n))
		}
	}
	if evt.Duplicates > 0 {
		s.duplicates.WithLabelValues(site).Add(float64(evt.Duplicates))
	}
	if evt.PersistErrors > 0 {
		s.persistErrors.WithLabelValues(site).Add(float64(evt.PersistErrors))
	}
	if evt.Unrecognized > 0 {
		s.unrecognized.WithLabelValues(site).Add(float64(evt.Unrecognized))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
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
