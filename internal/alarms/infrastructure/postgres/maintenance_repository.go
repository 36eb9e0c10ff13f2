package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// MaintenanceRepository reads per-device maintenance flags. Devices under
// maintenance have every alarm suppressed.
type MaintenanceRepository struct {
	db *sql.DB
}

// NewMaintenanceRepository constructs a repository.
func NewMaintenanceRepository(db *sql.DB) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// ListUnderMaintenance returns device codes currently flagged.
func (r *MaintenanceRepository) ListUnderMaintenance(ctx context.Context) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("maintenance repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_code
FROM device_maintenance
WHERE under_maintenance = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var deviceCode string
		if err := rows.Scan(&deviceCode); err != nil {
			return nil, err
		}
		result = append(result, deviceCode)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
