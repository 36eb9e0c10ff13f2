package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultHistoryTable = "telemetry_history"

// DeviceResolver maps a device code to the series key the history table is
// indexed by. ok=false means the device has no mapping and statistical rules
// for it are skipped.
type DeviceResolver interface {
	ResolveSeries(ctx context.Context, deviceCode string) (string, bool, error)
}

var aggregateExprs = map[string]string{
	"avg":   "AVG(value)",
	"max":   "MAX(value)",
	"min":   "MIN(value)",
	"sum":   "SUM(value)",
	"count": "COUNT(value)",
}

// AggregateQuery answers trailing-window statistics over the historical
// telemetry table.
type AggregateQuery struct {
	db      *sql.DB
	devices DeviceResolver
	table   string
	clock   func() time.Time
}

// QueryOption configures the aggregate query.
type QueryOption func(*AggregateQuery)

// WithTable overrides the default table name.
func WithTable(table string) QueryOption {
	return func(q *AggregateQuery) {
		if table != "" {
			q.table = table
		}
	}
}

// WithNowFunc overrides the window anchor, for tests.
func WithNowFunc(now func() time.Time) QueryOption {
	return func(q *AggregateQuery) {
		if now != nil {
			q.clock = now
		}
	}
}

// NewAggregateQuery constructs an aggregate query.
func NewAggregateQuery(db *sql.DB, devices DeviceResolver, opts ...QueryOption) (*AggregateQuery, error) {
	if db == nil {
		return nil, errors.New("history query: nil db")
	}
	if devices == nil {
		return nil, errors.New("history query: nil device resolver")
	}
	query := &AggregateQuery{
		db:      db,
		devices: devices,
		table:   defaultHistoryTable,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(query)
	}
	return query, nil
}

// Aggregate computes one statistic over the trailing window for a device
// field. found=false covers both missing device mappings and empty windows.
func (q *AggregateQuery) Aggregate(ctx context.Context, deviceCode, fieldCode string, window time.Duration, function string) (float64, bool, error) {
	if q == nil || q.db == nil {
		return 0, false, errors.New("history query: nil db")
	}
	if deviceCode == "" || fieldCode == "" || window <= 0 {
		return 0, false, errors.New("history query: invalid arguments")
	}
	expr, ok := aggregateExprs[function]
	if !ok {
		return 0, false, fmt.Errorf("history query: unsupported function %q", function)
	}

	seriesKey, ok, err := q.devices.ResolveSeries(ctx, deviceCode)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}

	since := q.clock().Add(-window)
	statement := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE series_key = $1 AND field_code = $2 AND ts >= $3`, expr, q.table)

	var value sql.NullFloat64
	if err := q.db.QueryRowContext(ctx, statement, seriesKey, fieldCode, since).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Float64, true, nil
}
