package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/alerting"
	"github.com/marketops/alertd/internal/state"
)

// Suppression reasons reported in logs and metrics
const (
	SuppressCooldown  = "cooldown"
	SuppressHourlyCap = "hourly_cap"
)

// SuppressionPolicy decides whether a candidate alert is dropped before any
// state mutation or dispatch. Two independent guards: a per-rule+severity
// cooldown, and a global hourly cap against alert storms.
type SuppressionPolicy struct {
	sameAlertInterval time.Duration
	maxAlertsPerHour  int
	logger            *logrus.Logger
}

// NewSuppressionPolicy creates a policy with the configured windows
func NewSuppressionPolicy(sameAlertInterval time.Duration, maxAlertsPerHour int, logger *logrus.Logger) *SuppressionPolicy {
	return &SuppressionPolicy{
		sameAlertInterval: sameAlertInterval,
		maxAlertsPerHour:  maxAlertsPerHour,
		logger:            logger,
	}
}

// ShouldSuppress reports whether alert must be dropped, and why. The cooldown
// key includes the severity, so a critical escalation is never muted by a
// prior warning's cooldown.
func (p *SuppressionPolicy) ShouldSuppress(alert *alerting.Alert, st *state.AlertState, now time.Time) (bool, string) {
	key := alert.SuppressionKey()
	if sentAt, ok := st.LastSent[key]; ok && now.Sub(sentAt) < p.sameAlertInterval {
		p.logger.WithFields(logrus.Fields{
			"rule":      alert.RuleName,
			"severity":  alert.Severity,
			"last_sent": sentAt,
		}).Debug("Alert suppressed by same-alert cooldown")
		return true, SuppressCooldown
	}

	if p.maxAlertsPerHour > 0 && st.HourCount(now) >= p.maxAlertsPerHour {
		p.logger.WithFields(logrus.Fields{
			"rule":   alert.RuleName,
			"bucket": state.HourBucket(now),
			"count":  st.HourCount(now),
		}).Debug("Alert suppressed by hourly cap")
		return true, SuppressHourlyCap
	}

	return false, ""
}
