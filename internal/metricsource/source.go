package metricsource

import (
	"context"
	"sort"
	"time"

	"github.com/marketops/alertd/internal/alerting"
)

// Source supplies the bounded, time-ordered sample window a rule evaluation
// consumes. How samples get produced is the collectors' business, not ours.
type Source interface {
	// Samples returns the samples for series within [now-window, now],
	// ordered oldest first.
	Samples(ctx context.Context, series string, window time.Duration, now time.Time) ([]alerting.Sample, error)
}

// MemorySource holds samples in memory, keyed by series name. Used in tests
// and by embedders that already have samples on hand.
type MemorySource struct {
	series map[string][]alerting.Sample
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{series: make(map[string][]alerting.Sample)}
}

// Add appends samples to a series
func (m *MemorySource) Add(series string, samples ...alerting.Sample) {
	m.series[series] = append(m.series[series], samples...)
}

// Samples returns the in-window samples for series, oldest first
func (m *MemorySource) Samples(ctx context.Context, series string, window time.Duration, now time.Time) ([]alerting.Sample, error) {
	cutoff := now.Add(-window)
	var out []alerting.Sample
	for _, s := range m.series[series] {
		if !s.Timestamp.Before(cutoff) && !s.Timestamp.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
