package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/alerting"
)

// SQLiteStore persists alert state in the dashboard's SQLite database. The
// tick lock is a write inside an open transaction: SQLite escalates it to a
// reserved lock, so a second tick blocks on its own lock write until the
// first commits (PRAGMA busy_timeout bounds the wait).
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
	now    func() time.Time

	mu sync.Mutex
	tx *sqlx.Tx
}

// NewSQLiteStore creates a store over an initialized database
func NewSQLiteStore(db *sqlx.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// Lock acquires the cross-process tick lock
func (s *SQLiteStore) Lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return nil, fmt.Errorf("tick lock already held")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin state transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE engine_lock SET acquired_at = ? WHERE id = 1`, s.now().UTC()); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	s.tx = tx

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.tx != nil {
			// Save committed already in the normal path; rollback covers
			// ticks that bail out before persisting.
			if err := s.tx.Rollback(); err != nil {
				s.logger.WithError(err).Debug("state lock rollback")
			}
			s.tx = nil
		}
	}, nil
}

type lastSentRow struct {
	Key    string    `db:"key"`
	SentAt time.Time `db:"sent_at"`
}

type hourlyRow struct {
	Bucket string `db:"bucket"`
	Count  int    `db:"count"`
}

type activeAlertRow struct {
	RuleName string `db:"rule_name"`
	Alert    string `db:"alert"`
}

// Load reads the persisted alert state
func (s *SQLiteStore) Load(ctx context.Context) (*AlertState, error) {
	q := s.querier()
	st := New()

	var sent []lastSentRow
	if err := sqlx.SelectContext(ctx, q, &sent, `SELECT key, sent_at FROM alert_last_sent`); err != nil {
		return nil, fmt.Errorf("failed to load last-sent state: %w", err)
	}
	for _, row := range sent {
		st.LastSent[row.Key] = row.SentAt
	}

	var hourly []hourlyRow
	if err := sqlx.SelectContext(ctx, q, &hourly, `SELECT bucket, count FROM alert_hourly_counts`); err != nil {
		return nil, fmt.Errorf("failed to load hourly counters: %w", err)
	}
	for _, row := range hourly {
		st.HourlyCount[row.Bucket] = row.Count
	}

	var active []activeAlertRow
	if err := sqlx.SelectContext(ctx, q, &active, `SELECT rule_name, alert FROM active_alerts`); err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	for _, row := range active {
		var alert alerting.Alert
		if err := json.Unmarshal([]byte(row.Alert), &alert); err != nil {
			return nil, fmt.Errorf("%w: active alert for rule %s: %v", ErrCorrupt, row.RuleName, err)
		}
		st.ActiveAlerts[row.RuleName] = alert
	}

	return st, nil
}

// Save replaces the persisted state inside the held transaction and commits
func (s *SQLiteStore) Save(ctx context.Context, st *AlertState) error {
	st.Prune(s.now())

	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()

	commit := false
	if tx == nil {
		var err error
		tx, err = s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin save transaction: %w", err)
		}
		commit = true
	}

	if err := writeState(ctx, tx, st); err != nil {
		tx.Rollback()
		s.clearTx(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		s.clearTx(tx)
		return fmt.Errorf("failed to commit alert state: %w", err)
	}
	if !commit {
		s.clearTx(tx)
	}
	return nil
}

func (s *SQLiteStore) clearTx(tx *sqlx.Tx) {
	s.mu.Lock()
	if s.tx == tx {
		s.tx = nil
	}
	s.mu.Unlock()
}

func writeState(ctx context.Context, tx *sqlx.Tx, st *AlertState) error {
	for _, stmt := range []string{
		`DELETE FROM alert_last_sent`,
		`DELETE FROM alert_hourly_counts`,
		`DELETE FROM active_alerts`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear state table: %w", err)
		}
	}

	for key, at := range st.LastSent {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_last_sent (key, sent_at) VALUES (?, ?)`, key, at.UTC()); err != nil {
			return fmt.Errorf("failed to write last-sent entry: %w", err)
		}
	}
	for bucket, count := range st.HourlyCount {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_hourly_counts (bucket, count) VALUES (?, ?)`, bucket, count); err != nil {
			return fmt.Errorf("failed to write hourly counter: %w", err)
		}
	}
	for rule, alert := range st.ActiveAlerts {
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to encode active alert for rule %s: %w", rule, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_alerts (rule_name, alert, updated_at) VALUES (?, ?, ?)`,
			rule, string(payload), time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to write active alert: %w", err)
		}
	}
	return nil
}

// AppendHistory records a dispatched or resolved alert for the dashboard
func (s *SQLiteStore) AppendHistory(ctx context.Context, alert *alerting.Alert) error {
	metrics, err := json.Marshal(alert.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode alert metrics: %w", err)
	}
	_, err = s.querier().ExecContext(ctx, `
		INSERT INTO alert_history (alert_id, rule_name, severity, title, message, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.RuleName, string(alert.Severity), alert.Title, alert.Message,
		string(metrics), alert.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append alert history: %w", err)
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

func (s *SQLiteStore) querier() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}
