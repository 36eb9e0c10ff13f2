package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarmrepo "plantwatch/internal/alarms/infrastructure/postgres"
	alarmhttp "plantwatch/internal/alarms/interfaces/http"
	alarmnotify "plantwatch/internal/alarms/notify"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	historypostgres "plantwatch/internal/history/postgres"
	masterdataapp "plantwatch/internal/masterdata/application"
	masterdatarepo "plantwatch/internal/masterdata/infrastructure/postgres"
	"plantwatch/internal/observability/metrics"
	telemetrypostgres "plantwatch/internal/telemetry/infrastructure/postgres"
	"plantwatch/internal/telemetry/interfaces/ingest"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	engineCfg, err := alarmapp.LoadConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	deviceResolver, err := masterdataapp.NewCachedDeviceResolver(deviceRepo)
	if err != nil {
		logger.Fatalf("device resolver error: %v", err)
	}
	aggregates, err := historypostgres.NewAggregateQuery(db, deviceResolver)
	if err != nil {
		logger.Fatalf("aggregate query error: %v", err)
	}

	ruleRepo := alarmrepo.NewAlarmRuleRepository(db)
	fieldRepo := alarmrepo.NewDeviceFieldRepository(db)
	maintenanceRepo := alarmrepo.NewMaintenanceRepository(db)
	alarmRepo := alarmrepo.NewAlarmRepository(db)

	broker := alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.AlarmNotifier{broker}
	if engineCfg.WebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(engineCfg.WebhookURL)
		if err != nil {
			logger.Fatalf("alarm webhook error: %v", err)
		}
		tpl, err := alarmnotify.NewTemplate(engineCfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("alarm template error: %v", err)
		}
		notifier, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithLogger(logger),
			alarmnotify.WithCooldown(engineCfg.Cooldown()),
			alarmnotify.WithDedupeWindow(engineCfg.DedupeWindow()),
		)
		if err != nil {
			logger.Fatalf("alarm notifier error: %v", err)
		}
		notifiers = append(notifiers, notifier)
	}

	engine, err := alarmapp.NewEngine(ruleRepo, fieldRepo, maintenanceRepo, alarmRepo,
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)),
		alarmapp.WithHistory(aggregates),
		alarmapp.WithLogger(logger),
		alarmapp.WithCacheTTL(engineCfg.CacheTTL()),
		alarmapp.WithQueryTimeout(engineCfg.QueryTimeout()),
	)
	if err != nil {
		logger.Fatalf("alarm engine error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(engineCfg.SweepInterval())
		defer ticker.Stop()
		for range ticker.C {
			if err := engine.SweepTimeouts(context.Background()); err != nil {
				logger.Printf("escalation sweep error: %v", err)
			}
		}
	}()

	telemetryRepo := telemetrypostgres.NewRepository(db)
	ingestHandler, err := ingest.NewHandler(telemetryRepo, deviceResolver, engine, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	auditRepo := audit.NewRepository(db)
	alarmHandler, err := alarmhttp.NewHandler(engine, auditRepo)
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/telemetry", ingestHandler)
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		metrics.IncHTTPRequest(r.Method, strconv.Itoa(resp.status))
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
