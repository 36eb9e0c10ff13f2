package masterdata

import (
	"context"
	"time"
)

// Device is master data for one monitored industrial device. SeriesKey is the
// identifier the historical telemetry store indexes the device under; devices
// without one cannot serve statistical alarm rules.
type Device struct {
	Code      string
	Name      string
	TypeCode  string
	SeriesKey string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceReader loads device master data.
type DeviceReader interface {
	GetByCode(ctx context.Context, code string) (*Device, error)
}
