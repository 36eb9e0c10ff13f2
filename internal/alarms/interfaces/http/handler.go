package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/alarms/interfaces"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
)

const timeLayout = time.RFC3339

// Handler provides alarm HTTP endpoints.
type Handler struct {
	engine      *alarmapp.Engine
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(engine *alarmapp.Engine, auditLogger audit.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("alarms handler: nil engine")
	}
	return &Handler{engine: engine, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case r.URL.Path == "/api/v1/alarms/refresh":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRefresh(w, r)
		return
	case r.URL.Path == "/api/v1/alarms/export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleAction(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	deviceCode, status, from, to, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.engine.ListAlarms(r.Context(), deviceCode, status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Refresh(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logAudit(r, "alarm_rules.refresh", "rule_cache", "", nil)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	deviceCode, status, from, to, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}

	list, err := h.engine.ListAlarms(r.Context(), deviceCode, status, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var (
		payload     []byte
		contentType string
		filename    string
	)
	switch format {
	case "xlsx":
		payload, err = interfaces.BuildAlarmsXLSX(deviceCode, list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "alarms.xlsx"
	case "pdf":
		payload, err = interfaces.BuildAlarmsPDF(deviceCode, list)
		contentType = "application/pdf"
		filename = "alarms.pdf"
	default:
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	var (
		alarm *alarms.Alarm
		err   error
	)
	switch action {
	case "resolve":
		var body struct {
			Note string `json:"note"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		alarm, err = h.engine.ResolveAlarm(r.Context(), id, body.Note)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if alarm != nil {
		meta, _ := json.Marshal(map[string]string{"note": alarm.ResolveNote})
		h.logAudit(r, "alarm.resolve", "alarm", alarm.ID, meta)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, meta json.RawMessage) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func listParams(r *http.Request) (deviceCode, status string, from, to time.Time, err error) {
	deviceCode = r.URL.Query().Get("device_code")
	if deviceCode == "" {
		return "", "", time.Time{}, time.Time{}, errors.New("device_code is required")
	}
	from, err = parseTimeQuery(r, "from")
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	to, err = parseTimeQuery(r, "to")
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return "", "", time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	status = r.URL.Query().Get("status")
	return deviceCode, status, from, to, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
