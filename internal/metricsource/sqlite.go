package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/alerting"
)

// SQLiteSource reads samples the dashboard collectors write into the
// metric_samples table
type SQLiteSource struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteSource creates a source over an initialized database
func NewSQLiteSource(db *sqlx.DB, logger *logrus.Logger) *SQLiteSource {
	return &SQLiteSource{db: db, logger: logger}
}

type sampleRow struct {
	RecordedAt time.Time `db:"recorded_at"`
	Value      float64   `db:"value"`
	StatusCode int       `db:"status_code"`
	Up         bool      `db:"up"`
}

// Samples returns the in-window samples for series, oldest first
func (s *SQLiteSource) Samples(ctx context.Context, series string, window time.Duration, now time.Time) ([]alerting.Sample, error) {
	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT recorded_at, value, status_code, up
		FROM metric_samples
		WHERE series = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC`,
		series, now.Add(-window).UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for series %s: %w", series, err)
	}

	samples := make([]alerting.Sample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, alerting.Sample{
			Timestamp:  row.RecordedAt,
			Value:      row.Value,
			StatusCode: row.StatusCode,
			Up:         row.Up,
		})
	}

	if len(samples) == 0 {
		s.logger.WithField("series", series).Debug("No samples in evaluation window")
	}
	return samples, nil
}

// Record inserts one sample. Collection itself lives outside the engine;
// this exists so embedders and tests can feed the table through one path.
func (s *SQLiteSource) Record(ctx context.Context, series string, sample alerting.Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_samples (series, value, status_code, up, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		series, sample.Value, sample.StatusCode, sample.Up, sample.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to record sample for series %s: %w", series, err)
	}
	return nil
}
