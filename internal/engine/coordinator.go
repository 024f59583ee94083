package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/alerting"
	"github.com/marketops/alertd/internal/metrics"
	"github.com/marketops/alertd/internal/metricsource"
	"github.com/marketops/alertd/internal/notify"
	"github.com/marketops/alertd/internal/state"
)

// Coordinator drives one evaluation pass over all configured rules: evaluate,
// suppress, persist, dispatch, then detect resolutions. Failures local to one
// rule or one channel are logged and swallowed; only a state persistence
// failure aborts the tick.
type Coordinator struct {
	rules      []alerting.Rule
	source     metricsource.Source
	store      state.Store
	policy     *SuppressionPolicy
	dispatcher *notify.Dispatcher
	collector  *metrics.Collector
	logger     *logrus.Logger
	now        func() time.Time
}

// New creates a coordinator. collector may be nil for single-shot runs.
func New(rules []alerting.Rule, source metricsource.Source, store state.Store,
	policy *SuppressionPolicy, dispatcher *notify.Dispatcher,
	collector *metrics.Collector, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		rules:      rules,
		source:     source,
		store:      store,
		policy:     policy,
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger,
		now:        time.Now,
	}
}

// Tick runs one full evaluation pass. The state lock is held for the whole
// pass so overlapping invocations cannot double-count the hourly cap or
// double-send a cooled-down alert.
func (c *Coordinator) Tick(ctx context.Context) error {
	start := c.now()
	defer func() {
		c.collector.ObserveTick(c.now().Sub(start))
	}()

	unlock, err := c.store.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	defer unlock()

	st, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrCorrupt) {
			// Re-sending already-active alerts once beats losing the tick.
			c.logger.WithError(err).Error("Alert state corrupt, starting from empty state")
		} else {
			c.logger.WithError(err).Error("Alert state unreadable, starting from empty state")
		}
		st = state.New()
	}

	for _, rule := range c.rules {
		c.processRule(ctx, rule, st)
	}

	c.resolveActive(ctx, st)

	if err := c.store.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to persist alert state: %w", err)
	}
	return nil
}

// processRule evaluates one rule and, when an alert survives suppression,
// mutates state and dispatches it. Panics and errors stay local to the rule.
func (c *Coordinator) processRule(ctx context.Context, rule alerting.Rule, st *state.AlertState) {
	defer func() {
		if r := recover(); r != nil {
			c.collector.TickError()
			c.logger.WithFields(logrus.Fields{
				"rule":  rule.Name,
				"panic": r,
			}).Error("Rule evaluation panicked")
		}
	}()

	log := c.logger.WithField("rule", rule.Name)

	evaluator, err := alerting.ForKind(rule.Metric)
	if err != nil {
		c.collector.TickError()
		log.WithError(err).Error("Rule has no evaluator")
		return
	}

	now := c.now()
	samples, err := c.source.Samples(ctx, rule.SeriesName(), rule.EvaluationWindow, now)
	if err != nil {
		c.collector.TickError()
		log.WithError(err).Warn("Metric source unavailable, skipping rule this tick")
		return
	}

	alert := evaluator.Evaluate(rule, samples, now)
	if alert == nil {
		log.WithField("samples", len(samples)).Debug("Rule not firing")
		return
	}

	if suppressed, reason := c.policy.ShouldSuppress(alert, st, now); suppressed {
		c.collector.AlertSuppressed(reason)
		return
	}

	st.RecordSent(alert.SuppressionKey(), now)
	st.IncrementHourly(now)
	st.SetActive(rule.Name, *alert)
	c.appendHistory(ctx, alert)

	log.WithFields(logrus.Fields{
		"severity": alert.Severity,
		"title":    alert.Title,
	}).Info("Alert accepted")
	c.collector.AlertFired(rule.Name, string(alert.Severity))

	c.dispatch(ctx, alert)
}

// resolveActive re-evaluates every active alert with fresh samples and emits
// a resolution when the condition has cleared. A rule still firing at any
// severity leaves its slot untouched.
func (c *Coordinator) resolveActive(ctx context.Context, st *state.AlertState) {
	names := make([]string, 0, len(st.ActiveAlerts))
	for name := range st.ActiveAlerts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		active := st.ActiveAlerts[name]
		log := c.logger.WithField("rule", name)

		rule, ok := c.ruleByName(name)
		if !ok {
			// Rule removed from configuration; its alert can never resolve
			// through evaluation, so drop the slot.
			log.Warn("Active alert for unknown rule, clearing")
			st.ClearActive(name)
			continue
		}

		evaluator, err := alerting.ForKind(rule.Metric)
		if err != nil {
			log.WithError(err).Error("Active alert rule has no evaluator")
			continue
		}

		now := c.now()
		samples, err := c.source.Samples(ctx, rule.SeriesName(), rule.EvaluationWindow, now)
		if err != nil {
			c.collector.TickError()
			log.WithError(err).Warn("Metric source unavailable, keeping alert active")
			continue
		}

		if firing := evaluator.Evaluate(rule, samples, now); firing != nil {
			continue
		}

		resolved := alerting.NewAlert(rule, alerting.SeverityResolved,
			fmt.Sprintf("Resolved: %s", active.Title),
			fmt.Sprintf("condition cleared for rule %s (was: %s)", name, active.Message),
			active.Metrics, now)

		st.ClearActive(name)
		c.appendHistory(ctx, resolved)
		log.WithField("title", resolved.Title).Info("Alert resolved")
		c.collector.AlertResolved(name)

		c.dispatch(ctx, resolved)
	}
}

// dispatch fans the alert out and records per-channel failures
func (c *Coordinator) dispatch(ctx context.Context, alert *alerting.Alert) {
	for _, result := range c.dispatcher.Dispatch(ctx, alert) {
		if result.Err != nil {
			c.collector.NotifyFailure(result.Channel)
		}
	}
}

// appendHistory records the alert when the store keeps an audit trail
func (c *Coordinator) appendHistory(ctx context.Context, alert *alerting.Alert) {
	h, ok := c.store.(state.HistoryAppender)
	if !ok {
		return
	}
	if err := h.AppendHistory(ctx, alert); err != nil {
		c.logger.WithError(err).WithField("rule", alert.RuleName).Warn("Failed to append alert history")
	}
}

func (c *Coordinator) ruleByName(name string) (alerting.Rule, bool) {
	for _, r := range c.rules {
		if r.Name == name {
			return r, true
		}
	}
	return alerting.Rule{}, false
}
