// Package metrics exposes creditwatch state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theirongolddev/creditwatch/internal/config"
	"github.com/theirongolddev/creditwatch/internal/model"
)

// Collector records balance, reconciliation and alert metrics on its own
// registry. A disabled collector accepts every call and records nothing.
//
// Metrics:
//   - <ns>_balance_usd, <ns>_deposited_usd, <ns>_spend_total_usd,
//     <ns>_historical_spend_usd, <ns>_checkpoint_timestamp_seconds
//   - <ns>_reconcile_runs_total{outcome}
//   - <ns>_reconcile_duration_seconds
//   - <ns>_rate_limited_total
//   - <ns>_alerts_sent_total, <ns>_alert_failures_total
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	balance    prometheus.Gauge
	deposited  prometheus.Gauge
	spend      prometheus.Gauge
	historical prometheus.Gauge
	checkpoint prometheus.Gauge

	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	rateLimited prometheus.Counter

	alertsSent    prometheus.Counter
	alertFailures prometheus.Counter
}

// NewCollector builds a collector for cfg. A nil registry gets a fresh one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "creditwatch"
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help})
	}

	c := &Collector{
		enabled:    cfg.Enabled,
		registry:   registry,
		balance:    gauge("balance_usd", "Estimated remaining credit balance in USD"),
		deposited:  gauge("deposited_usd", "Total credits deposited in USD"),
		spend:      gauge("spend_total_usd", "Total spend since tracking began in USD"),
		historical: gauge("historical_spend_usd", "Finalized spend banked in the ledger in USD"),
		checkpoint: gauge("checkpoint_timestamp_seconds", "Unix time below which spend is finalized"),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a reconciliation run",
			// Paging with rate-limit backoff can take tens of seconds.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		rateLimited:   counter("rate_limited_total", "Cost API responses with status 429"),
		alertsSent:    counter("alerts_sent_total", "Low-balance alerts delivered"),
		alertFailures: counter("alert_failures_total", "Low-balance alerts that failed to deliver"),
	}

	if c.enabled {
		registry.MustRegister(
			c.balance, c.deposited, c.spend, c.historical, c.checkpoint,
			c.runs, c.duration, c.rateLimited,
			c.alertsSent, c.alertFailures,
		)
	}
	return c
}

// ObserveView sets the balance gauges from v.
func (c *Collector) ObserveView(v model.BalanceView) {
	if !c.enabled {
		return
	}
	c.balance.Set(v.Balance.InexactFloat64())
	c.deposited.Set(v.TotalDeposited.InexactFloat64())
	c.spend.Set(v.TotalSpend.InexactFloat64())
	if !v.Checkpoint.IsZero() {
		c.checkpoint.Set(float64(v.Checkpoint.Unix()))
	}
}

// ObserveLedger sets the historical spend gauge from l.
func (c *Collector) ObserveLedger(l model.Ledger) {
	if !c.enabled {
		return
	}
	c.historical.Set(l.HistoricalSpend.InexactFloat64())
}

// RecordReconcile counts one reconciliation run.
func (c *Collector) RecordReconcile(outcome string, rateLimited int, d time.Duration) {
	if !c.enabled {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
	c.duration.Observe(d.Seconds())
	if rateLimited > 0 {
		c.rateLimited.Add(float64(rateLimited))
	}
}

// RecordAlert counts a delivery attempt; a nil err is a success.
func (c *Collector) RecordAlert(err error) {
	if !c.enabled {
		return
	}
	if err != nil {
		c.alertFailures.Inc()
		return
	}
	c.alertsSent.Inc()
}

// Registry returns the registry the collector registers on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
