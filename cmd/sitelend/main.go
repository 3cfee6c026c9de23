package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SiteLend/internal/config"
	"SiteLend/internal/ingestion"
	"SiteLend/internal/observability"
	"SiteLend/internal/oracle"
	"SiteLend/internal/persistence"
	"SiteLend/internal/ratemodel"
	"SiteLend/internal/registry"
	"SiteLend/internal/server"
	"SiteLend/internal/site"
)

func main() {
	configPath := flag.String("config", os.Getenv("SITELEND_CONFIG"), "path to TOML config file")
	flag.Parse()

	log := observability.NewLogger("main")
	log.Info().Msg("SiteLend starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	siteHook := observability.NewSiteHook(metrics)

	// --- Oracle cache + sites ---
	priceCache := oracle.NewCache(cfg.PriceMaxAge.Duration)

	recordChan := make(chan site.OperationRecord, 1024)
	recorder := persistence.NewChannelRecorder(recordChan)
	liqChan := make(chan persistence.LiquidationRow, 256)

	reg := registry.New()
	for _, sc := range cfg.Sites {
		model, err := buildRateModel(sc)
		if err != nil {
			log.Fatal().Err(err).Str("condition", sc.ConditionID).Msg("build rate model")
		}
		st, err := site.New(site.Config{
			ConditionID: sc.ConditionID,
			Params: site.RiskParams{
				MaxLtvBps:                  sc.MaxLtvBps,
				LiquidationThresholdBps:    sc.LiquidationThresholdBps,
				LiquidationTargetBps:       sc.LiquidationTargetBps,
				LiquidationBonusBps:        sc.LiquidationBonusBps,
				ProtocolFeeBps:             sc.ProtocolFeeBps,
				ProtectedSeizable:          sc.ProtectedSeizable,
				RestrictWinningWithdrawals: sc.RestrictWinningWithdrawals,
				GracePeriodSeconds:         sc.GracePeriodSeconds,
			},
			Model:    model,
			Oracle:   priceCache,
			Logger:   observability.NewLogger("site"),
			Recorder: recorder,
		})
		if err != nil {
			log.Fatal().Err(err).Str("condition", sc.ConditionID).Msg("build site")
		}
		st.RegisterHook(siteHook)
		if err := reg.Add(st); err != nil {
			log.Fatal().Err(err).Str("condition", sc.ConditionID).Msg("register site")
		}
		log.Info().Str("condition", sc.ConditionID).Msg("site opened")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("ingestion"))
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Goroutines ---
	errChan := make(chan error, 4)

	persistWorker := persistence.NewWorker(db, recordChan, liqChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout.Duration, metrics, observability.NewLogger("persistence"))
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	feed := ingestion.NewFeed(priceCache, reg, metrics, rawEventChan, observability.NewLogger("feed"))
	go func() {
		errChan <- feed.Run(ctx)
	}()

	sitePoller := observability.NewSitePoller(reg, metrics, 15*time.Second, observability.NewLogger("metrics"))
	go sitePoller.Run(ctx)

	liqSink := func(conditionID string, res *site.LiquidationResult) {
		liqChan <- persistence.FromResult(conditionID, res, time.Now())
	}
	httpServer := server.New(cfg.HTTPAddr, reg, healthChecker, metrics, liqSink, observability.NewLogger("http"))
	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int("sites", reg.Len()).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("SiteLend ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	natsSubscriber.Stop()

	// The persistence worker drains its channel on cancel; give it a
	// moment before the process exits.
	time.Sleep(time.Second)
	log.Info().Msg("SiteLend shutdown complete")
}

func buildRateModel(sc config.SiteConfig) (ratemodel.Model, error) {
	base, err := config.ParseRay(sc.RateBaseRay)
	if err != nil {
		return nil, err
	}
	if sc.OptimalUtilizationBps == 0 {
		// No kink configured: flat rate at base.
		return &ratemodel.Fixed{Rate: base}, nil
	}
	slopeLow, err := config.ParseRay(sc.RateSlopeLowRay)
	if err != nil {
		return nil, err
	}
	slopeHigh, err := config.ParseRay(sc.RateSlopeHighRay)
	if err != nil {
		return nil, err
	}
	return ratemodel.NewKinkModel(base, slopeLow, slopeHigh, sc.OptimalUtilizationBps)
}
