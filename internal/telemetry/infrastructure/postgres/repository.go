package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "plantwatch/internal/telemetry/domain"
)

const defaultHistoryTable = "telemetry_history"

// Repository is a Postgres implementation for telemetry measurements.
type Repository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRepository constructs a repository with the default table name.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertMeasurements upserts telemetry measurements.
func (r *Repository) InsertMeasurements(ctx context.Context, measurements []telemetry.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(measurements) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	series_key,
	device_code,
	field_code,
	ts,
	value
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (series_key, field_code, ts)
DO UPDATE SET
	value = EXCLUDED.value`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range measurements {
		if m.SeriesKey == "" || m.DeviceCode == "" || m.FieldCode == "" || m.TS.IsZero() {
			_ = tx.Rollback()
			return errors.New("telemetry repo: invalid measurement")
		}
		if _, err := stmt.ExecContext(
			ctx,
			m.SeriesKey,
			m.DeviceCode,
			m.FieldCode,
			m.TS.UTC(),
			m.Value,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
