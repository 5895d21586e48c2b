package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/alertmgr"
	"github.com/akilada/openlews/internal/config"
	"github.com/akilada/openlews/internal/detect"
	"github.com/akilada/openlews/internal/geocode"
	"github.com/akilada/openlews/internal/health"
	"github.com/akilada/openlews/internal/llm"
	"github.com/akilada/openlews/internal/logger"
	"github.com/akilada/openlews/internal/metrics"
	"github.com/akilada/openlews/internal/notify"
	"github.com/akilada/openlews/internal/retry"
	"github.com/akilada/openlews/internal/store/alerts"
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
	once := flag.Bool("once", false, "run a single detection pass and exit")
	flag.Parse()

	cfg := config.FromEnv()

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "detector",
	}, os.Stdout)

	log.Info().
		Str("version", Version).
		Str("redis", cfg.RedisAddr).
		Dur("interval", cfg.DetectInterval).
		Bool("once", *once).
		Msg("starting detector")

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

	chat, err := llm.NewOpenAIChat(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.ModelID,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		CallTimeout: cfg.LLM.CallTimeout,
		RatePerSec:  cfg.LLM.RatePerSec,
	})
	if err != nil {
		log.Error().Err(err).Msg("llm init failed")
		return 1
	}

	policy := retry.Default()
	policy.MaxAttempts = cfg.LLM.MaxAttempts
	policy.BaseDelay = cfg.LLM.BackoffBase
	policy.Cap = cfg.LLM.BackoffCap
	assessor := llm.NewClient(chat,
		llm.WithRetryPolicy(policy),
		llm.WithParseRetries(cfg.LLM.ParseRetries),
	)

	var notifier alertmgr.Notifier
	if len(cfg.Bus.Brokers) > 0 {
		n, err := notify.New(cfg.Bus.Brokers, cfg.Bus.AlertTopic, log)
		if err != nil {
			log.Warn().Err(err).Msg("notifier unavailable, alerts will not be published")
		} else {
			defer func() { _ = n.Close() }()
			notifier = n
		}
	}

	manager := alertmgr.New(alerts.New(rc, cfg.AlertTTL), notifier, alertmgr.Config{
		DedupWindow: cfg.AlertDedupWindow,
		ExpireGrace: cfg.AlertExpireGrace,
		Retention:   cfg.AlertTTL,
	}, log)

	zoneIndex := zoneindex.New(zones.New(rc), zoneindex.Config{
		MaxDistanceKM:  cfg.MaxDistanceKM,
		RadiusKM:       cfg.RadiusKM,
		GeohashLen:     cfg.ZoneGeohashLen,
		HazardDefaults: cfg.HazardDefaults,
	})

	runner := detect.NewRunner(
		telemetry.New(rc, cfg.TelemetryTTL),
		zoneIndex,
		assessor,
		geocode.NewResolver(cfg.GeocoderURL, cfg.GeocodeTimeout, log),
		manager,
		detect.RunnerConfig{
			Window:        time.Duration(cfg.WindowSeconds) * time.Second,
			Retention:     cfg.TelemetryTTL,
			Fanout:        cfg.DetectFanout,
			MaxDistanceKM: cfg.MaxDistanceKM,
			RadiusKM:      cfg.RadiusKM,
			Fusion: detect.FusionConfig{
				CorrelationRadiusM: cfg.CorrelationRadiusM,
				ClusterRadiusM:     cfg.ClusterRadiusM,
				MinClusterSize:     cfg.MinClusterSize,
				RiskThreshold:      cfg.RiskThreshold,
			},
			Scorer: detect.ScorerConfig{SFZeroIsCritical: cfg.SFZeroIsCritical},
		},
		log,
	)

	if *once {
		if err := runOnce(ctx, runner, manager, cfg.DetectDeadline, log); err != nil {
			return 1
		}
		return 0
	}

	startHealthServer(ctx, cfg.Addr, rc, log)

	// first pass immediately, then on the interval
	if err := runOnce(ctx, runner, manager, cfg.DetectDeadline, log); err != nil && ctx.Err() != nil {
		return 0
	}
	ticker := time.NewTicker(cfg.DetectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("detector stopped")
			return 0
		case <-ticker.C:
			_ = runOnce(ctx, runner, manager, cfg.DetectDeadline, log)
		}
	}
}

func runOnce(ctx context.Context, runner *detect.Runner, manager *alertmgr.Manager,
	deadline time.Duration, log zerolog.Logger) error {
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	report, err := runner.Run(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("detection run failed")
		return err
	}

	active, err := manager.CountActive(runCtx)
	if err != nil {
		log.Warn().Err(err).Msg("active alert count failed")
	}
	log.Info().
		Int("sensors_analyzed", report.SensorsAnalyzed).
		Int("clusters_detected", report.ClustersDetected).
		Int("alerts_created", report.AlertsCreated).
		Int("alerts_escalated", report.AlertsEscalated).
		Int("alerts_active", active).
		Float64("execution_time_s", report.ExecutionTimeS).
		Msg("detection run finished")
	return nil
}

// startHealthServer exposes liveness, readiness and metrics for the
// long-running mode.
func startHealthServer(ctx context.Context, addr string, rc *redisstore.Client, log zerolog.Logger) {
	prov := metrics.Init(metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})

	r := chi.NewRouter()
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rc))
	r.Handle("/metrics", prov.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("health listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server exited")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
