package alerting

import (
	"fmt"
	"math"
	"time"
)

// Evaluator turns a window of samples into an alert decision for one rule.
// Implementations are pure: no I/O, no mutation, same inputs give the same
// output. A nil alert means the rule is not firing.
type Evaluator interface {
	Evaluate(rule Rule, samples []Sample, now time.Time) *Alert
}

// ForKind returns the evaluator for a metric kind
func ForKind(kind MetricKind) (Evaluator, error) {
	switch kind {
	case MetricResponseTime:
		return thresholdEvaluator{
			metricLabel: "mean response time",
			unit:        "ms",
			aggregate:   meanValue,
		}, nil
	case MetricErrorRate:
		return thresholdEvaluator{
			metricLabel: "error rate",
			unit:        "%",
			aggregate:   errorRate,
		}, nil
	case MetricDatabaseLatency:
		return thresholdEvaluator{
			metricLabel: "mean database latency",
			unit:        "ms",
			aggregate:   meanValue,
		}, nil
	case MetricDiskUsage:
		return thresholdEvaluator{
			metricLabel: "disk usage",
			unit:        "%",
			aggregate:   latestValue,
		}, nil
	case MetricMemoryUsage:
		return thresholdEvaluator{
			metricLabel: "memory usage",
			unit:        "%",
			aggregate:   latestValue,
		}, nil
	case MetricUptime:
		return uptimeEvaluator{}, nil
	default:
		return nil, fmt.Errorf("no evaluator for metric kind %q", kind)
	}
}

// thresholdEvaluator covers every rule kind that compares one aggregate
// against the warning/critical pair
type thresholdEvaluator struct {
	metricLabel string
	unit        string
	aggregate   func(samples []Sample) float64
}

func (e thresholdEvaluator) Evaluate(rule Rule, samples []Sample, now time.Time) *Alert {
	// Insufficient evidence is checked before any threshold math
	if len(samples) < rule.MinSamples {
		return nil
	}

	value := round2(e.aggregate(samples))
	metrics := map[string]float64{
		"value":        value,
		"sample_count": float64(len(samples)),
	}

	// Critical short-circuits: a value past critical must never come out warning
	if value > rule.CriticalThreshold {
		metrics["threshold"] = rule.CriticalThreshold
		return NewAlert(rule, SeverityCritical,
			fmt.Sprintf("%s: %s critical", rule.Name, e.metricLabel),
			fmt.Sprintf("%s %.2f%s over %d samples exceeds critical threshold %.2f%s",
				e.metricLabel, value, e.unit, len(samples), rule.CriticalThreshold, e.unit),
			metrics, now)
	}
	if value > rule.WarningThreshold {
		metrics["threshold"] = rule.WarningThreshold
		return NewAlert(rule, SeverityWarning,
			fmt.Sprintf("%s: %s warning", rule.Name, e.metricLabel),
			fmt.Sprintf("%s %.2f%s over %d samples exceeds warning threshold %.2f%s",
				e.metricLabel, value, e.unit, len(samples), rule.WarningThreshold, e.unit),
			metrics, now)
	}
	return nil
}

// uptimeEvaluator fires on a run of consecutive DOWN samples, falling back to
// an aggregate uptime percentage check
type uptimeEvaluator struct{}

func (uptimeEvaluator) Evaluate(rule Rule, samples []Sample, now time.Time) *Alert {
	if len(samples) < rule.MinSamples {
		return nil
	}

	// Consecutive-failure scan over the most recent consecutive_failures*2
	// samples, newest first. An UP sample resets the run count.
	scan := rule.ConsecutiveFailures * 2
	if scan > len(samples) {
		scan = len(samples)
	}
	consecutive := 0
	for i := len(samples) - 1; i >= len(samples)-scan; i-- {
		if samples[i].Up {
			consecutive = 0
			continue
		}
		consecutive++
		if consecutive >= rule.ConsecutiveFailures {
			return NewAlert(rule, SeverityCritical,
				fmt.Sprintf("%s: Service Down", rule.Name),
				fmt.Sprintf("service down for %d consecutive checks (threshold %d)",
					consecutive, rule.ConsecutiveFailures),
				map[string]float64{
					"consecutive_failures": float64(consecutive),
					"threshold":            float64(rule.ConsecutiveFailures),
				}, now)
		}
	}

	upCount := 0
	for _, s := range samples {
		if s.Up {
			upCount++
		}
	}
	uptime := round2(float64(upCount) / float64(len(samples)) * 100)
	if uptime < rule.CriticalThreshold {
		return NewAlert(rule, SeverityCritical,
			fmt.Sprintf("%s: Low Uptime", rule.Name),
			fmt.Sprintf("uptime %.2f%% over %d samples is below critical threshold %.2f%%",
				uptime, len(samples), rule.CriticalThreshold),
			map[string]float64{
				"uptime":       uptime,
				"threshold":    rule.CriticalThreshold,
				"sample_count": float64(len(samples)),
			}, now)
	}
	return nil
}

func meanValue(samples []Sample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func errorRate(samples []Sample) float64 {
	errors := 0
	for _, s := range samples {
		if s.StatusCode >= 400 {
			errors++
		}
	}
	return float64(errors) / float64(len(samples)) * 100
}

func latestValue(samples []Sample) float64 {
	return samples[len(samples)-1].Value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
