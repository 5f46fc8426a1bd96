package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"moneymarket/core/events"
	"moneymarket/core/state"
	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/observability/logging"
	"moneymarket/observability/metrics"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lendingd/config"
	"moneymarket/services/lendingd/middleware"
	"moneymarket/services/lendingd/publisher"
	"moneymarket/services/lendingd/server"
	"moneymarket/services/lendingd/store"
	"moneymarket/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "lendingd",
		Env:        cfg.Environment,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("lendingd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()
	ledger, err := telemetry.NewLedger()
	if err != nil {
		return fmt.Errorf("init ledger instruments: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger db: %w", err)
	}
	defer db.Close()

	bolt, err := store.OpenBolt(cfg.Idempotency.Path, nil)
	if err != nil {
		return fmt.Errorf("open bolt store: %w", err)
	}
	defer bolt.Close()

	var audit *store.Audit
	if cfg.Audit.Driver != "" {
		if audit, err = store.OpenAudit(cfg.Audit.Driver, cfg.Audit.DSN); err != nil {
			return err
		}
		defer audit.Close()
	}

	oracle := lending.NewSimplePriceOracle()
	if n, err := bolt.LoadPrices(oracle); err != nil {
		return fmt.Errorf("load prices: %w", err)
	} else if n > 0 {
		logger.Info("restored posted prices", slog.Int("count", n))
	}

	engine := lending.NewEngine(state.NewLendingStore(db), oracle)
	treasury := bolt.Treasury()
	engine.SetTreasury(treasury)
	engine.SetBlockHeight(cfg.Chain.HeightAt(time.Now()))

	if err := bootstrapGenesis(cfg, engine, oracle, bolt, logger); err != nil {
		return err
	}
	if cfg.Rewards.Budget != "" {
		budget, err := fixed.ParseAmount(cfg.Rewards.Budget)
		if err != nil {
			return fmt.Errorf("rewards budget: %w", err)
		}
		if funded, err := treasury.Fund(budget); err != nil {
			return fmt.Errorf("fund treasury: %w", err)
		} else if funded {
			logger.Info("reward treasury funded", slog.String("amount", budget.Dec()))
		}
	}

	lendingMetrics := metrics.Lending()
	emitters := events.Fanout{lendingMetrics}
	if cfg.NATS.URL != "" {
		nc, err := publisher.Connect(cfg.NATS.URL, "lendingd")
		if err != nil {
			return err
		}
		defer nc.Drain()
		emitters = append(emitters, publisher.New(nc, cfg.NATS.SubjectPrefix, engine.BlockHeight, logger))
	}
	engine.SetEmitter(emitters)

	srv, err := server.New(engine, oracle, bolt, audit, lendingMetrics, ledger, logger, server.Config{
		Height:         cfg.Chain.HeightAt,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Auth: middleware.AuthConfig{
			HMACSecret:    cfg.Auth.HMACSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			ClockSkew:     cfg.Auth.ClockSkew,
			OptionalPaths: []string{"/healthz", "/metrics"},
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		ServiceName: "lendingd",
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("addr", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// bootstrapGenesis applies the genesis file to an empty ledger and persists
// its prices. An initialised ledger is left alone.
func bootstrapGenesis(cfg config.Config, engine *lending.Engine, oracle *lending.SimplePriceOracle, bolt *store.Bolt, logger *slog.Logger) error {
	_, err := engine.Params()
	if err == nil {
		return nil
	}
	if !errors.Is(err, lending.ErrNotInitialized) {
		return fmt.Errorf("read params: %w", err)
	}
	if cfg.GenesisPath == "" {
		logger.Warn("ledger not initialised and no genesis configured")
		return nil
	}
	genesis, err := lending.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}
	if err := genesis.ApplyGenesis(engine, oracle); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	for _, m := range genesis.Markets {
		if price, ok := oracle.UnderlyingPrice(m.ID); ok {
			if err := bolt.SavePrice(m.ID, price); err != nil {
				return fmt.Errorf("persist %s price: %w", m.ID, err)
			}
		}
	}
	logger.Info("genesis applied", slog.Int("markets", len(genesis.Markets)), slog.Uint64("height", engine.BlockHeight()))
	return nil
}
