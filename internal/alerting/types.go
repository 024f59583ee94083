package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityResolved Severity = "resolved"
)

// MetricKind identifies which evaluation strategy a rule uses
type MetricKind string

const (
	MetricResponseTime    MetricKind = "response_time"
	MetricErrorRate       MetricKind = "error_rate"
	MetricUptime          MetricKind = "uptime"
	MetricDatabaseLatency MetricKind = "database_latency"
	MetricDiskUsage       MetricKind = "disk_usage"
	MetricMemoryUsage     MetricKind = "memory_usage"
)

// Kinds lists all supported metric kinds
func Kinds() []MetricKind {
	return []MetricKind{
		MetricResponseTime,
		MetricErrorRate,
		MetricUptime,
		MetricDatabaseLatency,
		MetricDiskUsage,
		MetricMemoryUsage,
	}
}

// KnownKind reports whether kind is a supported metric kind
func KnownKind(kind MetricKind) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// Rule is an immutable alerting rule loaded once at startup
type Rule struct {
	Name              string        `json:"name"`
	Metric            MetricKind    `json:"metric"`
	Series            string        `json:"series"` // sample series name, defaults to Name
	WarningThreshold  float64       `json:"warning_threshold"`
	CriticalThreshold float64       `json:"critical_threshold"`
	EvaluationWindow  time.Duration `json:"evaluation_window"`
	MinSamples        int           `json:"min_samples"`
	// ConsecutiveFailures only applies to uptime rules
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`
}

// Validate checks rule invariants that must hold before evaluation
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !KnownKind(r.Metric) {
		return fmt.Errorf("rule %s: unknown metric kind %q", r.Name, r.Metric)
	}
	if r.Metric != MetricUptime && r.WarningThreshold >= r.CriticalThreshold {
		return fmt.Errorf("rule %s: warning threshold %.2f must be below critical threshold %.2f",
			r.Name, r.WarningThreshold, r.CriticalThreshold)
	}
	if r.EvaluationWindow <= 0 {
		return fmt.Errorf("rule %s: evaluation window must be positive", r.Name)
	}
	if r.MinSamples < 1 {
		return fmt.Errorf("rule %s: min_samples must be at least 1", r.Name)
	}
	if r.Metric == MetricUptime && r.ConsecutiveFailures < 1 {
		return fmt.Errorf("rule %s: uptime rules require consecutive_failures >= 1", r.Name)
	}
	return nil
}

// SeriesName returns the sample series this rule evaluates
func (r Rule) SeriesName() string {
	if r.Series != "" {
		return r.Series
	}
	return r.Name
}

// Sample is one timestamped observation from a metric source.
// StatusCode is only meaningful for error-rate series, Up only for uptime series.
type Sample struct {
	Timestamp  time.Time `json:"timestamp" db:"recorded_at"`
	Value      float64   `json:"value" db:"value"`
	StatusCode int       `json:"status_code,omitempty" db:"status_code"`
	Up         bool      `json:"up,omitempty" db:"up"`
}

// Alert is the immutable outcome of one rule evaluation
type Alert struct {
	ID        string             `json:"id"`
	RuleName  string             `json:"rule_name"`
	Severity  Severity           `json:"severity"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewAlert creates an alert for the given rule evaluation outcome
func NewAlert(rule Rule, severity Severity, title, message string, metrics map[string]float64, at time.Time) *Alert {
	if metrics == nil {
		metrics = make(map[string]float64)
	}
	return &Alert{
		ID:        uuid.New().String(),
		RuleName:  rule.Name,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Metrics:   metrics,
		Timestamp: at,
	}
}

// SuppressionKey returns the state key used for same-alert cooldown tracking.
// Severity is part of the key so an escalation is never muted by a prior
// warning's cooldown.
func (a *Alert) SuppressionKey() string {
	return a.RuleName + "_" + string(a.Severity)
}
