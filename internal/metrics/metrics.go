// Package metrics exposes orchestrator measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spigell/job-autopilot/internal/application"
)

const namespace = "job_autopilot"

// Recorder implements application.Recorder with Prometheus collectors.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	queueDepth  prometheus.Gauge
	backlog     prometheus.Gauge
}

var _ application.Recorder = (*Recorder)(nil)

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempt_transitions_total",
				Help:      "Application attempt state transitions by target state",
			},
			[]string{"state"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_outcomes_total",
				Help:      "Automation call results by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "automation_duration_seconds",
				Help:      "Automation call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "submission_queue_depth",
			Help:      "Attempts waiting in the submission queue",
		}),
		backlog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captcha_backlog_pending",
			Help:      "Unresolved CAPTCHA tickets",
		}),
	}
}

func (r *Recorder) Transition(to application.State) {
	r.transitions.WithLabelValues(string(to)).Inc()
}

func (r *Recorder) AttemptFinished(kind application.OutcomeKind, elapsed time.Duration) {
	r.outcomes.WithLabelValues(string(kind)).Inc()
	r.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (r *Recorder) QueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

func (r *Recorder) BacklogPending(n int) {
	r.backlog.Set(float64(n))
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collected metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
