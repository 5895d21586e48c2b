package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/bus"
	"github.com/akilada/openlews/internal/config"
	"github.com/akilada/openlews/internal/health"
	"github.com/akilada/openlews/internal/ingest"
	"github.com/akilada/openlews/internal/logger"
	"github.com/akilada/openlews/internal/metrics"
	"github.com/akilada/openlews/internal/middleware"
	"github.com/akilada/openlews/internal/store/redisstore"
	"github.com/akilada/openlews/internal/store/telemetry"
	"github.com/akilada/openlews/internal/store/zones"
	"github.com/akilada/openlews/internal/zoneindex"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "ingestor",
	}, os.Stdout)

	log.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("redis", cfg.RedisAddr).
		Strs("brokers", cfg.Bus.Brokers).
		Msg("starting ingestor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rc, err := redisstore.New(connectCtx, cfg.RedisAddr)
	if err != nil {
		log.Error().Err(err).Msg("redis connect failed")
		return 1
	}
	defer func() { _ = rc.Close() }()

	telemetryStore := telemetry.New(rc, cfg.TelemetryTTL)
	zoneIndex := zoneindex.New(zones.New(rc), zoneindex.Config{
		MaxDistanceKM:  cfg.MaxDistanceKM,
		RadiusKM:       cfg.RadiusKM,
		GeohashLen:     cfg.ZoneGeohashLen,
		HazardDefaults: cfg.HazardDefaults,
	})
	enricher := ingest.NewEnricher(zoneIndex, cfg.EnableEnrichment)

	var publisher ingest.EventPublisher
	if cfg.EnableEventPub {
		p, err := bus.NewPublisher(cfg.Bus.Brokers, cfg.Bus.EventTopic, cfg.Bus.QueueSize, log)
		if err != nil {
			log.Error().Err(err).Msg("event publisher init failed")
			return 1
		}
		defer func() { _ = p.Close() }()
		publisher = p
	}

	handler := ingest.NewHandler(telemetryStore, enricher, publisher, ingest.Config{
		EnableEventPublish: cfg.EnableEventPub,
		EnrichCacheSize:    cfg.EnrichCacheSize,
		Deadline:           cfg.IngestDeadline,
	}, &log)

	prov := metrics.Init(metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(&log))
	r.Use(middleware.Logging(&log))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rc))
	r.Handle("/metrics", prov.Handler())
	r.Post("/ingest", handler.ServeHTTP)
	r.Get("/sensors/latest", latestHandler(telemetryStore, &log))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.IngestDeadline,
		WriteTimeout:      cfg.IngestDeadline + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("ingestor stopped")
	return 0
}

// latestHandler exposes the latest reading per sensor, mainly for operator
// dashboards and smoke checks.
func latestHandler(store *telemetry.Store, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := store.LatestPerSensor(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("latest readings query failed")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":   len(latest),
			"sensors": latest,
		})
	}
}
