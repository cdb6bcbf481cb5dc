// Package metrics instruments the runtime with Prometheus collectors.
//
// Each Metrics value owns its own registry, so two runtimes in one process
// never share counters.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/logline/internal/spanlog"
)

const namespace = "logline"

// Metrics holds the runtime collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	// Submissions counts finished submissions by outcome
	// (ok | validation | contract_not_found | execution | persistence).
	Submissions *prometheus.CounterVec

	// Transitions counts submission state transitions by state.
	Transitions *prometheus.CounterVec

	// ActionDuration observes action run time by contract and result.
	ActionDuration *prometheus.HistogramVec

	// SkippedRecords counts records not yielded by a log scan, by reason
	// (torn | corrupt).
	SkippedRecords *prometheus.CounterVec

	// ReplayedSpans counts spans restored into the projection.
	ReplayedSpans prometheus.Counter

	// ProjectedSpans is the current number of projection entries.
	ProjectedSpans prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Span submissions by outcome.",
			},
			[]string{"outcome"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_transitions_total",
				Help:      "Submission state transitions by state entered.",
			},
			[]string{"state"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Action execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"contract", "result"},
		),
		SkippedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_skipped_records_total",
				Help:      "Log records skipped while scanning, by reason.",
			},
			[]string{"reason"},
		),
		ReplayedSpans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_spans_total",
			Help:      "Spans restored into the projection by replay.",
		}),
		ProjectedSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projected_spans",
			Help:      "Entries currently held in the projection.",
		}),
	}

	m.registry.MustRegister(
		m.Submissions,
		m.Transitions,
		m.ActionDuration,
		m.SkippedRecords,
		m.ReplayedSpans,
		m.ProjectedSpans,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSubmission counts one finished submission.
func (m *Metrics) ObserveSubmission(outcome string) {
	m.Submissions.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts entry into a submission state.
func (m *Metrics) ObserveTransition(state string) {
	m.Transitions.WithLabelValues(state).Inc()
}

// ObserveAction records one action run.
func (m *Metrics) ObserveAction(contract string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ActionDuration.WithLabelValues(contract, result).Observe(d.Seconds())
}

// ObserveReplay records a completed projection rebuild.
func (m *Metrics) ObserveReplay(spans int) {
	m.ReplayedSpans.Add(float64(spans))
	m.ProjectedSpans.Set(float64(spans))
}

// ObserveProjected sets the projection size.
func (m *Metrics) ObserveProjected(n int) {
	m.ProjectedSpans.Set(float64(n))
}

// SkipHook returns a hook that counts skipped log records. Pass it to a log
// backend with spanlog.WithSkipHook.
func (m *Metrics) SkipHook() spanlog.SkipHook {
	return func(s spanlog.Skipped) {
		m.SkippedRecords.WithLabelValues(s.Reason()).Inc()
	}
}

// Write writes the registry in the Prometheus text exposition format.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile atomically writes the registry to path for the node exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
