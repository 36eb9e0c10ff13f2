package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	telemetry "plantwatch/internal/telemetry/domain"
)

// SeriesResolver maps a device code to its historical-store series key.
type SeriesResolver interface {
	ResolveSeries(ctx context.Context, deviceCode string) (string, bool, error)
}

// Evaluator runs alarm rules over an incoming sample.
type Evaluator interface {
	Evaluate(ctx context.Context, deviceCode, deviceName, deviceTypeCode string, sample alarmapp.Sample) ([]alarmapp.TriggeredAlarm, error)
}

// Handler handles telemetry ingestion from edge gateways.
type Handler struct {
	repo     telemetry.Repository
	resolver SeriesResolver
	engine   Evaluator
	logger   *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(repo telemetry.Repository, resolver SeriesResolver, engine Evaluator, logger *log.Logger) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if engine == nil {
		return nil, errors.New("telemetry ingest: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{repo: repo, resolver: resolver, engine: engine, logger: logger}, nil
}

// ServeHTTP ingests telemetry data and evaluates alarm rules on it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	points, err := req.normalize()
	if err != nil {
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.persist(r.Context(), req, points); err != nil {
		h.logger.Printf("telemetry ingest: insert error: %v", err)
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	triggered := 0
	for _, point := range points {
		alarms, err := h.engine.Evaluate(r.Context(), req.DeviceCode, req.DeviceName, req.DeviceTypeCode, point.sample(req.Status))
		if err != nil {
			h.logger.Printf("telemetry ingest: evaluate error for device %s: %v", req.DeviceCode, err)
			http.Error(w, "evaluate error", http.StatusInternalServerError)
			return
		}
		triggered += len(alarms)
	}

	resp := map[string]any{
		"points":    len(points),
		"triggered": triggered,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// persist stores the points under the device series key. Devices without a
// series mapping are evaluated but not archived.
func (h *Handler) persist(ctx context.Context, req ingestRequest, points []ingestPoint) error {
	if h.resolver == nil {
		return nil
	}
	seriesKey, ok, err := h.resolver.ResolveSeries(ctx, req.DeviceCode)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var measurements []telemetry.Measurement
	for _, point := range points {
		for field, value := range point.Values {
			measurements = append(measurements, telemetry.Measurement{
				SeriesKey:  seriesKey,
				DeviceCode: req.DeviceCode,
				FieldCode:  field,
				TS:         point.at,
				Value:      value,
			})
		}
	}
	return h.repo.InsertMeasurements(ctx, measurements)
}

type ingestRequest struct {
	DeviceCode     string             `json:"deviceCode"`
	DeviceName     string             `json:"deviceName"`
	DeviceTypeCode string             `json:"deviceTypeCode"`
	Status         string             `json:"status"`
	TS             int64              `json:"ts"`
	Values         map[string]float64 `json:"values"`
	Points         []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`

	at time.Time
}

func (p ingestPoint) sample(status string) alarmapp.Sample {
	sample := make(alarmapp.Sample, len(p.Values)+2)
	for field, value := range p.Values {
		sample[field] = value
	}
	sample["ts"] = p.at
	if status != "" {
		sample["status"] = status
	}
	return sample
}

func (r ingestRequest) normalize() ([]ingestPoint, error) {
	if r.DeviceCode == "" || r.DeviceTypeCode == "" {
		return nil, errors.New("missing deviceCode/deviceTypeCode")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	for i := range points {
		at, err := parseTimestamp(points[i].TS)
		if err != nil {
			return nil, err
		}
		if len(points[i].Values) == 0 {
			return nil, errors.New("empty values")
		}
		points[i].at = at
	}
	return points, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
