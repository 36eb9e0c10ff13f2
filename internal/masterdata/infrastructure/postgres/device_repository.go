package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "plantwatch/internal/masterdata/domain"
)

const defaultDevicesTable = "devices"

// DBTX is the subset of database/sql used by repositories.
type DBTX interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// GetByCode loads a device by code.
func (r *DeviceRepository) GetByCode(ctx context.Context, code string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if code == "" {
		return nil, errors.New("device repo: empty code")
	}

	query := fmt.Sprintf(`
SELECT code, name, type_code, series_key, created_at, updated_at
FROM %s
WHERE code = $1
LIMIT 1`, r.table)

	var device masterdata.Device
	var seriesKey sql.NullString
	if err := r.db.QueryRowContext(ctx, query, code).Scan(
		&device.Code,
		&device.Name,
		&device.TypeCode,
		&seriesKey,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.SeriesKey = seriesKey.String
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
