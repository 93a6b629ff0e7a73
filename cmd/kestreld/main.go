// Command kestreld runs the intent submission boundary, the staged pipeline
// worker pool, and the relay fan-out as a single long-lived process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kestrel/audit"
	"kestrel/capital"
	kconfig "kestrel/config"
	"kestrel/gateway"
	"kestrel/idempotency"
	"kestrel/intent"
	"kestrel/observability/logging"
	"kestrel/observability/metrics"
	"kestrel/observability/otelboot"
	"kestrel/orchestrator"
	"kestrel/pipeline"
	"kestrel/relay"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "kestreld.yaml", "path to kestreld wiring configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KESTREL_ENV"))
	logger := logging.Setup("kestreld", env)

	cfg, err := loadDaemonConfig(cfgPath)
	if err != nil {
		log.Fatalf("kestreld: %v", err)
	}

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := otelboot.Init(context.Background(), otelboot.Config{
		ServiceName: "kestreld",
		Environment: env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    insecure,
		Headers:     otelboot.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("kestreld: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	sqliteDSN := cfg.SQLitePath
	if !strings.HasPrefix(sqliteDSN, "file:") {
		sqliteDSN, err = intent.FileDSN(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("kestreld: %v", err)
		}
	}
	store, err := intent.Open(sqliteDSN)
	if err != nil {
		log.Fatalf("kestreld: open intent store: %v", err)
	}
	defer store.Close()

	replayCache, err := intent.OpenReplayCache(cfg.ReplayDBPath)
	if err != nil {
		log.Fatalf("kestreld: open replay cache: %v", err)
	}
	defer replayCache.Close()

	if cfg.PostgresDSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
		if err != nil {
			log.Fatalf("kestreld: open postgres: %v", err)
		}
		if _, err := intent.OpenLastEventView(db); err != nil {
			log.Fatalf("kestreld: open last-event view: %v", err)
		}
	}

	auditLog, err := audit.Open(cfg.AuditDir)
	if err != nil {
		log.Fatalf("kestreld: open audit log: %v", err)
	}
	defer auditLog.Close()

	capitalCfg, err := capital.LoadConfig(cfg.CapitalConfig)
	if err != nil {
		log.Fatalf("kestreld: load capital config: %v", err)
	}
	enforcer := capital.NewPolicyEnforcer(capitalCfg)

	tuning, err := kconfig.Load(cfg.TuningConfig)
	if err != nil {
		log.Fatalf("kestreld: load tuning config: %v", err)
	}
	tuning.OnUpdate(func(snap kconfig.Snapshot) {
		applyTuning(enforcer, snap, logger)
	})
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go tuning.WatchSIGHUP(rootCtx, func(err error) {
		logger.Error("kestreld: tuning reload failed", "err", err)
	})

	metricsSink := metrics.New()

	exec := intent.NewExecutor(store, logger)
	pl := pipeline.New(exec, logger, metricsSink,
		pipeline.NewScreenStage(0, replayCache),
		pipeline.NewValidateStage(),
		pipeline.NewEnrichStage(nil, 3, 200*time.Millisecond),
		pipeline.NewPolicyStage(0, nil, enforcer),
	)

	lanes := newStaticLaneHealth(cfg.laneHealth())
	simulator := newHTTPSimulator(cfg.SimulatorURL)
	submitter := newHTTPSubmitter(cfg.RelayEndpoints)

	initialSnap := tuning.Get()
	pool := orchestrator.New(pl, exec, store, simulator, lanes, submitter,
		orchestrator.WithWorkers(cfg.Workers),
		orchestrator.WithAuditLog(auditLog),
		orchestrator.WithLogger(logger),
		orchestrator.WithAntiMEV(initialSnap.AntiMEV.EpochMs, initialSnap.AntiMEV.JitterMaxMs, initialSnap.AntiMEV.DecoyPct),
		orchestrator.WithBackoff(relay.BackoffConfig{
			BaseMs:    initialSnap.Router.BaseMs,
			Factor:    initialSnap.Router.Factor,
			MaxMs:     initialSnap.Router.MaxMs,
			JitterPct: initialSnap.Router.JitterPct,
		}),
	)
	pool.Start(rootCtx)

	submitterGateway := idempotency.New(store, func(intentID string) string {
		return "/v1/status/" + intentID
	})

	auth := gateway.AuthMiddleware(gateway.NoopAuth)
	switch {
	case len(cfg.APIKeys) > 0:
		var persistence gateway.NoncePersistence
		if cfg.NonceDBPath != "" {
			nonceStore, err := gateway.NewLevelDBNonceStore(cfg.NonceDBPath)
			if err != nil {
				log.Fatalf("kestreld: open nonce store: %v", err)
			}
			defer nonceStore.Close()
			persistence = nonceStore
		}
		auth = gateway.NewHMACAuthenticator(cfg.APIKeys, persistence, logger).Middleware()
	case cfg.JWT != nil:
		auth = gateway.NewJWTAuthenticator(gateway.JWTAuthConfig{
			HMACSecret: cfg.JWT.HMACSecret,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
		}, logger).Middleware(cfg.JWT.Scopes...)
	}

	var cors *gateway.CORSConfig
	if len(cfg.CORSOrigins) > 0 {
		cors = &gateway.CORSConfig{AllowedOrigins: cfg.CORSOrigins}
	}

	srv := gateway.New(gateway.Config{
		Submitter: submitterGateway,
		Store:     store,
		Pool:      pool,
		Metrics:   metricsSink,
		Logger:    logger,
		Auth:      auth,
		CORS:      cors,
		RateLimits: map[string]gateway.RateLimit{
			"submit": {RatePerSecond: 50, Burst: 100},
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool.Shutdown(10 * time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("kestreld: listening", slog.String("addr", cfg.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("kestreld: http server error: %v", err)
	}
}

// applyTuning pushes a reloaded config.Snapshot's capital.* keys into the
// running PolicyEnforcer, the one tuning group with a live mutable target
// to push into. The anti-MEV and router groups are captured once into the
// pool's options at construction time; reloading those without restarting
// the pool would require the pool to consult tuning.Get() per dispatch
// instead, which it does not do yet.
func applyTuning(enforcer *capital.PolicyEnforcer, snap kconfig.Snapshot, logger *slog.Logger) {
	dailyLoss, err := capital.ParseAmount(snap.Capital.DailyLossCap)
	if err != nil {
		logger.Error("kestreld: invalid daily_loss_cap in reloaded config", "err", err)
		return
	}
	accountCap, err := capital.ParseAmount(snap.Capital.AccountCap)
	if err != nil {
		logger.Error("kestreld: invalid account_cap in reloaded config", "err", err)
		return
	}
	strategyCap, err := capital.ParseAmount(snap.Capital.StrategyCap)
	if err != nil {
		logger.Error("kestreld: invalid strategy_cap in reloaded config", "err", err)
		return
	}
	enforcer.ApplyConfig(capital.Config{
		KillSwitch:   snap.Capital.Kill,
		DailyLossCap: dailyLoss,
		AccountCap:   accountCap,
		StrategyCap:  strategyCap,
	})
}
