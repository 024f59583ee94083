package state

import (
	"context"
	"errors"
	"time"

	"github.com/marketops/alertd/internal/alerting"
)

// ErrCorrupt is returned by Load when the persisted blob cannot be decoded.
// Callers fall back to an empty state rather than aborting the tick.
var ErrCorrupt = errors.New("alert state corrupt")

// hourBucketLayout is the key format for hourly alert counters
const hourBucketLayout = "2006-01-02T15"

// retentionWindow is how long hourly counter buckets are kept
const retentionWindow = 24 * time.Hour

// AlertState is the engine's only mutable shared resource: cooldown
// timestamps, hourly counters, and the active-alert set. It is loaded at the
// start of a tick, mutated in memory, and persisted atomically by the Store.
type AlertState struct {
	LastSent     map[string]time.Time      `json:"last_sent"`
	HourlyCount  map[string]int            `json:"hourly_count"`
	ActiveAlerts map[string]alerting.Alert `json:"active_alerts"`
}

// New returns an empty alert state
func New() *AlertState {
	return &AlertState{
		LastSent:     make(map[string]time.Time),
		HourlyCount:  make(map[string]int),
		ActiveAlerts: make(map[string]alerting.Alert),
	}
}

// normalize restores maps after decoding a blob that omitted them
func (s *AlertState) normalize() {
	if s.LastSent == nil {
		s.LastSent = make(map[string]time.Time)
	}
	if s.HourlyCount == nil {
		s.HourlyCount = make(map[string]int)
	}
	if s.ActiveAlerts == nil {
		s.ActiveAlerts = make(map[string]alerting.Alert)
	}
}

// RecordSent stores the dispatch timestamp for a rule+severity key
func (s *AlertState) RecordSent(key string, at time.Time) {
	s.LastSent[key] = at
}

// IncrementHourly bumps the alert counter for the hour containing at
func (s *AlertState) IncrementHourly(at time.Time) {
	s.HourlyCount[HourBucket(at)]++
}

// HourCount returns the accepted-alert count for the hour containing at
func (s *AlertState) HourCount(at time.Time) int {
	return s.HourlyCount[HourBucket(at)]
}

// SetActive records alert as the single active alert for its rule
func (s *AlertState) SetActive(rule string, alert alerting.Alert) {
	s.ActiveAlerts[rule] = alert
}

// ClearActive removes the active alert for rule, if any
func (s *AlertState) ClearActive(rule string) {
	delete(s.ActiveAlerts, rule)
}

// Prune drops hourly counter buckets older than the retention window.
// Runs on every save.
func (s *AlertState) Prune(now time.Time) {
	cutoff := now.Add(-retentionWindow)
	for bucket := range s.HourlyCount {
		t, err := time.ParseInLocation(hourBucketLayout, bucket, time.UTC)
		if err != nil || t.Before(cutoff) {
			delete(s.HourlyCount, bucket)
		}
	}
}

// HourBucket returns the counter key for the hour containing t
func HourBucket(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(hourBucketLayout)
}

// Store persists AlertState across ticks. Load and Save must be used inside a
// held Lock so the read-modify-write of a whole tick is effectively atomic
// against overlapping invocations.
type Store interface {
	// Lock acquires the cross-process tick lock. The returned function
	// releases it and must always be called.
	Lock(ctx context.Context) (func(), error)
	// Load reads the persisted state. A missing blob yields an empty state;
	// an undecodable one yields ErrCorrupt.
	Load(ctx context.Context) (*AlertState, error)
	// Save persists the state atomically, pruning stale hourly buckets first.
	Save(ctx context.Context, s *AlertState) error
	Close() error
}

// HistoryAppender is implemented by stores that keep an audit trail of
// dispatched and resolved alerts for the dashboard
type HistoryAppender interface {
	AppendHistory(ctx context.Context, alert *alerting.Alert) error
}
