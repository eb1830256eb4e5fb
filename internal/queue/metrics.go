package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "flotilla_queue_"

type Metrics struct {
	jobStates       *prometheus.GaugeVec
	submissions     prometheus.Counter
	retries         prometheus.Counter
	failures        prometheus.Counter
	kills           prometheus.Counter
	advanceDuration prometheus.Histogram
}

// NewMetrics registers the queue metrics with the given registerer. Tests
// pass a fresh registry so that multiple queues can coexist.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		jobStates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricsPrefix + "jobs",
				Help: "Number of jobs per queue state",
			},
			[]string{"state"},
		),
		submissions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricsPrefix + "submissions_total",
				Help: "Number of successful job submissions",
			},
		),
		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricsPrefix + "retries_total",
				Help: "Number of jobs resubmitted after a failed attempt",
			},
		),
		failures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricsPrefix + "failures_total",
				Help: "Number of jobs that exhausted their submit attempts",
			},
		),
		kills: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricsPrefix + "kills_total",
				Help: "Number of jobs killed on request",
			},
		),
		advanceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "advance_duration_seconds",
				Help:    "Scheduling step latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
		),
	}
}

func (m *Metrics) observeStates(counts map[JobState]int) {
	for state := Waiting; state <= Killed; state++ {
		m.jobStates.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
}
