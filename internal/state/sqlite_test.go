package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/marketops/alertd/internal/alerting"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE engine_lock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			acquired_at DATETIME
		)`,
		`INSERT INTO engine_lock (id, acquired_at) VALUES (1, NULL)`,
		`CREATE TABLE alert_last_sent (
			key TEXT PRIMARY KEY,
			sent_at DATETIME NOT NULL
		)`,
		`CREATE TABLE alert_hourly_counts (
			bucket TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE active_alerts (
			rule_name TEXT PRIMARY KEY,
			alert TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE alert_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			metrics TEXT,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create test schema: %v", err)
		}
	}
	return db
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t), testLogger())
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	unlock, err := store.Lock(ctx)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer unlock()

	st, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load empty state: %v", err)
	}
	st.RecordSent("api_latency_critical", now)
	st.IncrementHourly(now)
	st.SetActive("api_latency", alerting.Alert{
		ID:       "a1",
		RuleName: "api_latency",
		Severity: alerting.SeverityCritical,
		Title:    "critical",
		Metrics:  map[string]float64{"value": 2500},
	})

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	unlock()

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to reload state: %v", err)
	}
	if !loaded.LastSent["api_latency_critical"].Equal(now) {
		t.Errorf("Expected last-sent %v, got %v", now, loaded.LastSent["api_latency_critical"])
	}
	if loaded.HourCount(now) != 1 {
		t.Errorf("Expected hourly count 1, got %d", loaded.HourCount(now))
	}
	active, ok := loaded.ActiveAlerts["api_latency"]
	if !ok {
		t.Fatal("Expected active alert for api_latency")
	}
	if active.Severity != alerting.SeverityCritical {
		t.Errorf("Expected critical severity, got %s", active.Severity)
	}
}

func TestSQLiteStoreSaveReplacesState(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t), testLogger())
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	st := New()
	st.SetActive("api_latency", alerting.Alert{RuleName: "api_latency", Metrics: map[string]float64{}})
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Failed to save first state: %v", err)
	}

	st.ClearActive("api_latency")
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Failed to save second state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if len(loaded.ActiveAlerts) != 0 {
		t.Errorf("Expected cleared active alerts, got %v", loaded.ActiveAlerts)
	}
}

func TestSQLiteStoreCorruptActiveAlert(t *testing.T) {
	db := setupTestDB(t)
	store := NewSQLiteStore(db, testLogger())

	if _, err := db.Exec(
		`INSERT INTO active_alerts (rule_name, alert, updated_at) VALUES (?, ?, ?)`,
		"api_latency", "{broken", time.Now().UTC()); err != nil {
		t.Fatalf("Failed to plant corrupt row: %v", err)
	}

	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Expected ErrCorrupt, got: %v", err)
	}
}

func TestSQLiteStoreSavePrunesOldBuckets(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t), testLogger())
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	st := New()
	st.IncrementHourly(now)
	st.HourlyCount[HourBucket(now.Add(-25*time.Hour))] = 9

	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if len(loaded.HourlyCount) != 1 {
		t.Errorf("Expected stale bucket pruned, got %v", loaded.HourlyCount)
	}
}

func TestSQLiteStoreAppendHistory(t *testing.T) {
	db := setupTestDB(t)
	store := NewSQLiteStore(db, testLogger())
	ctx := context.Background()

	alert := &alerting.Alert{
		ID:        "a1",
		RuleName:  "disk_usage",
		Severity:  alerting.SeverityWarning,
		Title:     "disk_usage: disk usage warning",
		Message:   "disk usage 88.00% exceeds warning threshold 85.00%",
		Metrics:   map[string]float64{"value": 88},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.AppendHistory(ctx, alert); err != nil {
		t.Fatalf("Failed to append history: %v", err)
	}

	var count int
	if err := db.Get(&count,
		`SELECT COUNT(*) FROM alert_history WHERE rule_name = ? AND severity = ?`,
		"disk_usage", "warning"); err != nil {
		t.Fatalf("Failed to count history rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 history row, got %d", count)
	}
}
