package state

import (
	"testing"
	"time"
)

func TestPruneRetainsLast24Buckets(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	st := New()
	st.IncrementHourly(now)
	// Bucket exactly 24h back (yesterday 12:00) falls outside the window;
	// the 23h-old bucket (yesterday 13:00) is the oldest survivor.
	st.HourlyCount[HourBucket(now.Add(-24*time.Hour))] = 5
	st.HourlyCount[HourBucket(now.Add(-23*time.Hour))] = 4

	st.Prune(now)

	if _, ok := st.HourlyCount[HourBucket(now.Add(-24*time.Hour))]; ok {
		t.Errorf("Expected 24h-old bucket pruned, got %v", st.HourlyCount)
	}
	if _, ok := st.HourlyCount[HourBucket(now.Add(-23*time.Hour))]; !ok {
		t.Errorf("Expected 23h-old bucket retained, got %v", st.HourlyCount)
	}
	if st.HourCount(now) != 1 {
		t.Errorf("Expected current bucket count 1, got %d", st.HourCount(now))
	}
}

func TestPruneDropsUnparseableBuckets(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	st := New()
	st.IncrementHourly(now)
	st.HourlyCount["garbage-bucket"] = 3

	st.Prune(now)

	if len(st.HourlyCount) != 1 {
		t.Errorf("Expected only the current bucket to survive, got %v", st.HourlyCount)
	}
}
