package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "plantwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	evaluationsTotal *prometheus.CounterVec
	alarmEventsTotal *prometheus.CounterVec

	ruleCacheReloads *prometheus.CounterVec

	statisticQueryLatency *prometheus.HistogramVec

	activeAlarms  prometheus.Gauge
	alarmsByLevel *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by type",
			},
			[]string{"event"},
		)
		ruleCacheReloads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_cache_reloads_total",
				Help: "Total rule cache reloads by result",
			},
			[]string{"result"},
		)
		statisticQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statistic_query_latency_seconds",
				Help:    "Historical aggregate query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		activeAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alarms",
				Help: "Currently active alarms tracked by the engine",
			},
		)
		alarmsByLevel = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alarms_by_level",
				Help: "Currently active alarms in storage by level",
			},
			[]string{"level"},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status",
			},
			[]string{"method", "status"},
		)

		prometheus.MustRegister(
			evaluationsTotal,
			alarmEventsTotal,
			ruleCacheReloads,
			statisticQueryLatency,
			activeAlarms,
			alarmsByLevel,
			httpRequests,
		)

		if db != nil {
			go pollAlarmGauges(db, logger)
		}
	})
}

// pollAlarmGauges refreshes the storage-backed level breakdown.
func pollAlarmGauges(db *sql.DB, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		rows, err := db.Query(`SELECT level, COUNT(*) FROM alarms WHERE status = 'active' GROUP BY level`)
		if err != nil {
			if logger != nil {
				logger.Printf("metrics: active alarm poll failed: %v", err)
			}
			continue
		}
		counts := map[string]float64{"emergency": 0, "critical": 0, "warning": 0}
		for rows.Next() {
			var level string
			var count float64
			if err := rows.Scan(&level, &count); err != nil {
				break
			}
			counts[level] = count
		}
		_ = rows.Close()
		for level, count := range counts {
			alarmsByLevel.WithLabelValues(level).Set(count)
		}
	}
}

// IncEvaluation increments rule evaluation counters.
func IncEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncRuleCacheReload increments cache reload counters.
func IncRuleCacheReload(success bool) {
	if ruleCacheReloads == nil {
		return
	}
	result := resultSuccess
	if !success {
		result = resultError
	}
	ruleCacheReloads.WithLabelValues(result).Inc()
}

// ObserveStatisticQuery records aggregate query latency and result.
func ObserveStatisticQuery(duration time.Duration, success bool) {
	if statisticQueryLatency == nil {
		return
	}
	result := resultSuccess
	if !success {
		result = resultError
	}
	statisticQueryLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// SetActiveAlarms sets the engine-tracked active alarm gauge.
func SetActiveAlarms(count int) {
	if activeAlarms != nil {
		activeAlarms.Set(float64(count))
	}
}

// IncHTTPRequest increments the HTTP request counter.
func IncHTTPRequest(method, status string) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, status).Inc()
	}
}
