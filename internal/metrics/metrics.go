package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes engine counters for the daemon's /metrics endpoint
type Collector struct {
	alertsFired      *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	alertsResolved   *prometheus.CounterVec
	notifyFailures   *prometheus.CounterVec
	tickErrors       prometheus.Counter
	tickDuration     prometheus.Histogram
}

// NewCollector registers and returns the engine metrics
func NewCollector() *Collector {
	return &Collector{
		alertsFired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertd_alerts_fired_total",
				Help: "Accepted alerts by rule and severity",
			},
			[]string{"rule", "severity"},
		),
		alertsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertd_alerts_suppressed_total",
				Help: "Suppressed alerts by reason",
			},
			[]string{"reason"},
		),
		alertsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertd_alerts_resolved_total",
				Help: "Resolved alerts by rule",
			},
			[]string{"rule"},
		),
		notifyFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertd_notify_failures_total",
				Help: "Notification delivery failures by channel",
			},
			[]string{"channel"},
		),
		tickErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "alertd_tick_errors_total",
				Help: "Per-rule failures swallowed during ticks",
			},
		),
		tickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alertd_tick_duration_seconds",
				Help:    "Wall time of one full evaluation tick",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// AlertFired counts one accepted alert. Nil-safe so single-shot runs can skip
// metrics entirely.
func (c *Collector) AlertFired(rule, severity string) {
	if c == nil {
		return
	}
	c.alertsFired.WithLabelValues(rule, severity).Inc()
}

// AlertSuppressed counts one suppressed alert
func (c *Collector) AlertSuppressed(reason string) {
	if c == nil {
		return
	}
	c.alertsSuppressed.WithLabelValues(reason).Inc()
}

// AlertResolved counts one resolution notification
func (c *Collector) AlertResolved(rule string) {
	if c == nil {
		return
	}
	c.alertsResolved.WithLabelValues(rule).Inc()
}

// NotifyFailure counts one failed channel delivery
func (c *Collector) NotifyFailure(channel string) {
	if c == nil {
		return
	}
	c.notifyFailures.WithLabelValues(channel).Inc()
}

// TickError counts one swallowed per-rule failure
func (c *Collector) TickError() {
	if c == nil {
		return
	}
	c.tickErrors.Inc()
}

// ObserveTick records the duration of one tick
func (c *Collector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.tickDuration.Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
