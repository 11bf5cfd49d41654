// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry        prometheus.Registerer
	requestsTotal   *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	rateLimitWaits  prometheus.Counter
	rateLimitSlept  prometheus.Counter
	schedulerRuns   *prometheus.CounterVec
	activeProfiles  prometheus.Gauge
	pendingRequests prometheus.Gauge
}

// Init registers the daemon's collectors on reg (the default registerer
// when nil) under the given namespace.
func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipc_requests_total",
				Help:      "Total number of IPC requests received",
			},
			[]string{"status"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of dispatched actions",
			},
			[]string{"action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of dispatched actions",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"action"},
		),
		rateLimitWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Total number of rate-limit backoff sleeps",
			},
		),
		rateLimitSlept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_slept_seconds_total",
				Help:      "Total seconds slept waiting out rate limits",
			},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_runs_total",
				Help:      "Total number of scheduled task firings",
			},
			[]string{"task", "status"},
		),
		activeProfiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_profiles",
				Help:      "Number of profiles with a live connection",
			},
		),
		pendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ipc_inflight_requests",
				Help:      "Number of IPC requests currently being served",
			},
		),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.actionsTotal,
		m.actionDuration,
		m.rateLimitWaits,
		m.rateLimitSlept,
		m.schedulerRuns,
		m.activeProfiles,
		m.pendingRequests,
	)

	return m
}

func (m *Metrics) RecordRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordAction(action, status string, duration time.Duration) {
	m.actionsTotal.WithLabelValues(action, status).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRateLimitWait is wired as the backoff executor's OnWait hook.
func (m *Metrics) RecordRateLimitWait(d time.Duration) {
	m.rateLimitWaits.Inc()
	m.rateLimitSlept.Add(d.Seconds())
}

func (m *Metrics) RecordSchedulerRun(taskID, status string) {
	m.schedulerRuns.WithLabelValues(taskID, status).Inc()
}

func (m *Metrics) SetActiveProfiles(n int) {
	m.activeProfiles.Set(float64(n))
}

func (m *Metrics) RequestStarted() {
	m.pendingRequests.Inc()
}

func (m *Metrics) RequestFinished() {
	m.pendingRequests.Dec()
}
