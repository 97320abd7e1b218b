package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"emittr/fourinarow/internal/analytics"
	"emittr/fourinarow/internal/config"
	"emittr/fourinarow/internal/lobby"
	"emittr/fourinarow/internal/server"
	"emittr/fourinarow/internal/storage"
	"emittr/fourinarow/internal/validation"
)

var CLI struct {
	Config   string `short:"c" long:"config" default:"fourinarow.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" long:"addr" help:"Server address to bind to (overrides config)"`
	LogLevel string `short:"l" long:"log-level" help:"Log level (overrides config)"`
}

func main() {
	kctx := kong.Parse(&CLI, kong.Description("Four-in-a-row game server."))

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		log.Error("loading config", "err", err)
		kctx.Exit(1)
	}
	if CLI.Addr != "" {
		cfg.Addr = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.LogLevel = CLI.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		kctx.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           cfg.Level(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()
	tracker, closeTracker := openTracker(ctx, cfg, logger)
	defer closeTracker()

	registry := lobby.New(lobby.Config{
		EscalateAfter: cfg.EscalateAfter,
		GracePeriod:   cfg.GracePeriod,
		SweepInterval: cfg.SweepInterval,
		EvictAfter:    cfg.EvictAfter,
		BotMoveDelay:  cfg.BotMoveDelay,
		Logger:        logger,
		Validator:     validation.Rules{},
		Store:         store,
		Analytics:     tracker,
	})
	srv := server.New(server.Config{
		Registry:    registry,
		Store:       store,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	logger.Info("starting four-in-a-row server",
		"addr", cfg.Addr,
		"escalateAfter", cfg.EscalateAfter,
		"grace", cfg.GracePeriod)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.Addr) })
	g.Go(func() error { return registry.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
	}

	logger.Info("draining side effects")
	registry.Drain()
}

// openStore prefers Postgres and falls back to memory when it is not
// configured or not reachable.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (storage.Store, func()) {
	if cfg.PostgresURL == "" {
		logger.Info("no database configured, using in-memory store")
		return storage.NewMemoryStore(), func() {}
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := storage.NewPostgresStore(connectCtx, cfg.PostgresURL)
	if err != nil {
		logger.Warn("postgres disabled, using in-memory store", "err", err)
		return storage.NewMemoryStore(), func() {}
	}
	if err := pg.EnsureTables(connectCtx); err != nil {
		logger.Warn("postgres ensure tables failed", "err", err)
	}
	logger.Info("using postgres store")
	return pg, pg.Close
}

// openTracker prefers Redis, then Kafka, and otherwise discards events.
func openTracker(ctx context.Context, cfg *config.Config, logger *log.Logger) (analytics.Tracker, func()) {
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := analytics.NewRedisClient(connectCtx, cfg.RedisURL)
		if err == nil {
			logger.Info("publishing analytics to redis", "list", cfg.KafkaTopic)
			pub := analytics.NewRedisPublisher(client, cfg.KafkaTopic)
			return pub, func() { _ = pub.Close() }
		}
		logger.Warn("redis analytics disabled", "err", err)
	}
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info("publishing analytics to kafka", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
		producer := analytics.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		return producer, func() { _ = producer.Close() }
	}
	return analytics.Discard{}, func() {}
}
