package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// valueSamples spreads n samples with the given values over the last few
// minutes, oldest first
func valueSamples(values ...float64) []Sample {
	samples := make([]Sample, len(values))
	for i, v := range values {
		samples[i] = Sample{
			Timestamp: testNow.Add(-time.Duration(len(values)-i) * 30 * time.Second),
			Value:     v,
		}
	}
	return samples
}

func latencyRule(name string) Rule {
	return Rule{
		Name:              name,
		Metric:            MetricResponseTime,
		WarningThreshold:  500,
		CriticalThreshold: 2000,
		EvaluationWindow:  300 * time.Second,
		MinSamples:        5,
	}
}

func mustEvaluator(t *testing.T, kind MetricKind) Evaluator {
	t.Helper()
	ev, err := ForKind(kind)
	require.NoError(t, err)
	return ev
}

func TestForKindUnknown(t *testing.T) {
	_, err := ForKind(MetricKind("load_average"))
	assert.Error(t, err)
}

func TestEvaluateInsufficientSamples(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	// Values way past critical must not matter with too few samples.
	alert := ev.Evaluate(latencyRule("api_latency"), valueSamples(9000, 9000, 9000), testNow)
	assert.Nil(t, alert)
}

func TestEvaluateResponseTimeCritical(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	samples := valueSamples(2500, 2500, 2500, 2500, 2500, 2500)
	alert := ev.Evaluate(latencyRule("api_latency"), samples, testNow)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "api_latency", alert.RuleName)
	assert.Contains(t, alert.Message, "2500")
	assert.Contains(t, alert.Message, "2000")
	assert.Equal(t, 2500.0, alert.Metrics["value"])
	assert.Equal(t, 6.0, alert.Metrics["sample_count"])
}

func TestEvaluateCriticalShortCircuitsWarning(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	// Mean of 3000 exceeds both thresholds; severity must be critical.
	samples := valueSamples(3000, 3000, 3000, 3000, 3000)
	alert := ev.Evaluate(latencyRule("api_latency"), samples, testNow)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
}

func TestEvaluateResponseTimeWarning(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	samples := valueSamples(600, 700, 800, 600, 700)
	alert := ev.Evaluate(latencyRule("api_latency"), samples, testNow)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Contains(t, alert.Message, "warning threshold")
}

func TestEvaluateBelowThresholds(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	alert := ev.Evaluate(latencyRule("api_latency"), valueSamples(100, 150, 120, 110, 90), testNow)
	assert.Nil(t, alert)
}

func TestEvaluateMeanRounding(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)

	rule := latencyRule("api_latency")
	rule.MinSamples = 3
	// mean = 700.0033... -> 700.00
	samples := valueSamples(700, 700, 700.01)
	alert := ev.Evaluate(rule, samples, testNow)

	require.NotNil(t, alert)
	assert.Equal(t, 700.0, alert.Metrics["value"])
}

func TestEvaluateErrorRateCritical(t *testing.T) {
	ev := mustEvaluator(t, MetricErrorRate)

	rule := Rule{
		Name:              "error_rate",
		Metric:            MetricErrorRate,
		WarningThreshold:  5,
		CriticalThreshold: 15,
		EvaluationWindow:  300 * time.Second,
		MinSamples:        10,
	}

	samples := make([]Sample, 20)
	for i := range samples {
		samples[i] = Sample{Timestamp: testNow.Add(-time.Duration(20-i) * 10 * time.Second), StatusCode: 200}
	}
	for i := 0; i < 4; i++ {
		samples[i].StatusCode = 500
	}

	alert := ev.Evaluate(rule, samples, testNow)
	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, 20.0, alert.Metrics["value"])
	assert.Contains(t, alert.Message, "20.00")
}

func TestEvaluateLatestValueKinds(t *testing.T) {
	for _, kind := range []MetricKind{MetricDiskUsage, MetricMemoryUsage} {
		ev := mustEvaluator(t, kind)

		rule := Rule{
			Name:              "usage",
			Metric:            kind,
			WarningThreshold:  85,
			CriticalThreshold: 95,
			EvaluationWindow:  600 * time.Second,
			MinSamples:        1,
		}

		// Only the most recent sample counts, history is ignored.
		samples := valueSamples(99, 98, 97, 90)
		alert := ev.Evaluate(rule, samples, testNow)
		require.NotNil(t, alert, string(kind))
		assert.Equal(t, SeverityWarning, alert.Severity, string(kind))
		assert.Equal(t, 90.0, alert.Metrics["value"], string(kind))
	}
}

func uptimeRule() Rule {
	return Rule{
		Name:                "uptime",
		Metric:              MetricUptime,
		CriticalThreshold:   95,
		EvaluationWindow:    900 * time.Second,
		MinSamples:          3,
		ConsecutiveFailures: 3,
	}
}

func upDownSamples(oldestFirst ...bool) []Sample {
	samples := make([]Sample, len(oldestFirst))
	for i, up := range oldestFirst {
		samples[i] = Sample{
			Timestamp: testNow.Add(-time.Duration(len(oldestFirst)-i) * time.Minute),
			Up:        up,
		}
	}
	return samples
}

func TestEvaluateUptimeConsecutiveFailures(t *testing.T) {
	ev := mustEvaluator(t, MetricUptime)

	// Newest three samples are DOWN; earlier UP samples are irrelevant.
	alert := ev.Evaluate(uptimeRule(), upDownSamples(true, true, false, false, false), testNow)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.True(t, strings.Contains(alert.Title, "Service Down"))
	assert.Equal(t, 3.0, alert.Metrics["consecutive_failures"])
}

func TestEvaluateUptimeRunBrokenByUp(t *testing.T) {
	ev := mustEvaluator(t, MetricUptime)

	rule := uptimeRule()
	// Keep the percentage check quiet so only the consecutive check could
	// fire, and it must not: the UP sample resets the run.
	rule.CriticalThreshold = 10
	alert := ev.Evaluate(rule, upDownSamples(false, false, true, false, false), testNow)
	assert.Nil(t, alert)
}

func TestEvaluateUptimeLowPercentage(t *testing.T) {
	ev := mustEvaluator(t, MetricUptime)

	// No 3-run of downs, but 3 of 6 samples down -> 50% uptime.
	alert := ev.Evaluate(uptimeRule(), upDownSamples(false, true, false, true, false, true), testNow)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.True(t, strings.Contains(alert.Title, "Low Uptime"))
	assert.Equal(t, 50.0, alert.Metrics["uptime"])
	assert.Contains(t, alert.Message, "50.00")
}

func TestEvaluateUptimeHealthy(t *testing.T) {
	ev := mustEvaluator(t, MetricUptime)

	alert := ev.Evaluate(uptimeRule(), upDownSamples(true, true, true, true, true), testNow)
	assert.Nil(t, alert)
}

func TestEvaluateIsPure(t *testing.T) {
	ev := mustEvaluator(t, MetricResponseTime)
	samples := valueSamples(2500, 2500, 2500, 2500, 2500)

	first := ev.Evaluate(latencyRule("api_latency"), samples, testNow)
	second := ev.Evaluate(latencyRule("api_latency"), samples, testNow)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Severity, second.Severity)
	assert.Equal(t, first.Message, second.Message)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRuleValidate(t *testing.T) {
	valid := latencyRule("ok")
	assert.NoError(t, valid.Validate())

	bad := latencyRule("bad")
	bad.WarningThreshold = 3000
	assert.Error(t, bad.Validate(), "warning above critical must fail")

	bad = latencyRule("bad")
	bad.MinSamples = 0
	assert.Error(t, bad.Validate())

	bad = latencyRule("bad")
	bad.Metric = "bogus"
	assert.Error(t, bad.Validate())

	up := uptimeRule()
	up.ConsecutiveFailures = 0
	assert.Error(t, up.Validate())
}
