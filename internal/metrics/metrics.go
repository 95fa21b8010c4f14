// Package metrics exposes Prometheus metrics and a health endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"TrendSentinel/internal/model"
)

// Metrics holds all Prometheus metrics for the trend monitor.
type Metrics struct {
	Registry *prometheus.Registry

	ChecksTotal      *prometheus.CounterVec // labels: result=ok|skipped|failed
	TransitionsTotal *prometheus.CounterVec // labels: trend
	CycleDuration    prometheus.Histogram
	CycleDegraded    prometheus.Gauge // 1 when the last cycle could not persist state
	LastCycle        prometheus.Gauge // unix seconds

	FetchDuration  *prometheus.HistogramVec // labels: provider, result
	NotifyFailures prometheus.Counter

	SymbolIndexSize prometheus.Gauge
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsentinel_checks_total",
			Help: "Instrument checks by outcome",
		}, []string{"result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendsentinel_transitions_total",
			Help: "Trend transitions by new trend",
		}, []string{"trend"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendsentinel_cycle_duration_seconds",
			Help:    "Wall time of a full check cycle",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		CycleDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendsentinel_cycle_degraded",
			Help: "1 if the last cycle hit a persistence failure",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendsentinel_last_cycle_timestamp_seconds",
			Help: "Finish time of the last check cycle",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendsentinel_provider_fetch_duration_seconds",
			Help:    "Provider OHLCV request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "result"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendsentinel_notification_failures_total",
			Help: "Notifications that could not be delivered",
		}),
		SymbolIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendsentinel_symbol_index_entries",
			Help: "Entries in the published symbol catalogue",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChecksTotal,
		m.TransitionsTotal,
		m.CycleDuration,
		m.CycleDegraded,
		m.LastCycle,
		m.FetchDuration,
		m.NotifyFailures,
		m.SymbolIndexSize,
	)
	return m
}

// ObserveFetch records one provider call. It matches collector.FetchObserver.
func (m *Metrics) ObserveFetch(provider string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchDuration.WithLabelValues(provider, result).Observe(took.Seconds())
}

// ObserveCheck counts one instrument check outcome.
func (m *Metrics) ObserveCheck(result string) {
	m.ChecksTotal.WithLabelValues(result).Inc()
}

// ObserveTransition counts a trend change.
func (m *Metrics) ObserveTransition(ev *model.TransitionEvent) {
	m.TransitionsTotal.WithLabelValues(ev.New.String()).Inc()
}

// ObserveCycle records the outcome of a finished cycle.
func (m *Metrics) ObserveCycle(r *model.CycleReport) {
	m.CycleDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	m.LastCycle.Set(float64(r.FinishedAt.Unix()))
	if r.Degraded {
		m.CycleDegraded.Set(1)
	} else {
		m.CycleDegraded.Set(0)
	}
}

// IncNotifyFailure counts an undelivered notification.
func (m *Metrics) IncNotifyFailure() { m.NotifyFailures.Inc() }

// SetIndexSize publishes the symbol catalogue size.
func (m *Metrics) SetIndexSize(n int) { m.SymbolIndexSize.Set(float64(n)) }
