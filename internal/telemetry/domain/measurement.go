package telemetry

import (
	"context"
	"time"
)

// Measurement is a raw telemetry value written to the historical store.
type Measurement struct {
	SeriesKey  string
	DeviceCode string
	FieldCode  string
	TS         time.Time
	Value      float64
}

// Repository persists telemetry measurements.
type Repository interface {
	InsertMeasurements(ctx context.Context, measurements []Measurement) error
}
