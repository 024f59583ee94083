package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marketops/alertd/internal/alerting"
)

// recommendedActions is runbook text keyed by rule name. The standard rules
// are named after their metric kind, so kind-named lookups cover most
// configurations.
var recommendedActions = map[string]string{
	"response_time":    "Check application server load, slow queries, and any recent deployments.",
	"api_latency":      "Check application server load, slow queries, and any recent deployments.",
	"error_rate":       "Inspect application error logs and recent deployments; verify upstream marketplace APIs.",
	"uptime":           "Verify the service process is running and the host is reachable; restart the service if needed.",
	"database_latency": "Check for long-running queries, lock contention, and connection pool exhaustion.",
	"disk_usage":       "Clean up old logs and export files, or extend the volume.",
	"memory_usage":     "Check for leaking worker processes; restart the import workers if usage keeps climbing.",
}

const genericAction = "Check the service logs and the monitoring dashboard for details."

// RecommendedAction returns the runbook text for a rule
func RecommendedAction(ruleName string) string {
	if action, ok := recommendedActions[ruleName]; ok {
		return action
	}
	return genericAction
}

// FormatMetrics renders the alert's metric snapshot as stable "name: value"
// lines, sorted by name
func FormatMetrics(alert *alerting.Alert) string {
	names := make([]string, 0, len(alert.Metrics))
	for name := range alert.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %.2f\n", name, alert.Metrics[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

// severityColor maps severities to the hex colors chat channels expect
func severityColor(sev alerting.Severity) string {
	switch sev {
	case alerting.SeverityCritical:
		return "#d9534f"
	case alerting.SeverityWarning:
		return "#f0ad4e"
	case alerting.SeverityResolved:
		return "#5cb85c"
	default:
		return "#777777"
	}
}

// severityTag is the short uppercase marker used in subjects and chat text
func severityTag(sev alerting.Severity) string {
	return strings.ToUpper(string(sev))
}

// plainBody renders the shared plain-text notification body
func plainBody(alert *alerting.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	if metrics := FormatMetrics(alert); metrics != "" {
		fmt.Fprintf(&b, "Metrics:\n%s\n\n", metrics)
	}
	fmt.Fprintf(&b, "Recommended action: %s\n", RecommendedAction(alert.RuleName))
	fmt.Fprintf(&b, "Time: %s\n", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
