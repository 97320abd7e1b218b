package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"emittr/fourinarow/internal/analytics"
)

var CLI struct {
	Brokers  []string      `long:"brokers" env:"KAFKA_BROKERS" sep:"," help:"Kafka brokers to consume from"`
	Topic    string        `long:"topic" env:"KAFKA_TOPIC" default:"game-events" help:"Kafka topic or Redis list name"`
	Group    string        `long:"group" default:"analytics-consumer" help:"Kafka consumer group"`
	Redis    string        `long:"redis" env:"REDIS_URL" help:"Consume from a Redis list instead of Kafka"`
	Interval time.Duration `long:"interval" default:"30s" help:"How often to log a summary"`
	LogLevel string        `short:"l" long:"log-level" env:"LOG_LEVEL" default:"info" help:"Log level"`
}

type source interface {
	analytics.Source
	Close() error
}

func main() {
	kctx := kong.Parse(&CLI, kong.Description("Aggregates four-in-a-row gameplay events."))

	level, err := log.ParseLevel(CLI.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: level, Prefix: "analytics"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var src source
	switch {
	case CLI.Redis != "":
		client, err := analytics.NewRedisClient(ctx, CLI.Redis)
		if err != nil {
			logger.Error("connecting to redis", "err", err)
			kctx.Exit(1)
		}
		logger.Info("consuming from redis", "list", CLI.Topic)
		src = analytics.NewRedisSource(client, CLI.Topic)
	case len(CLI.Brokers) > 0:
		logger.Info("consuming from kafka", "brokers", CLI.Brokers, "topic", CLI.Topic, "group", CLI.Group)
		src = analytics.NewKafkaSource(CLI.Brokers, CLI.Topic, CLI.Group)
	default:
		logger.Error("no event source: set --brokers or --redis")
		kctx.Exit(1)
	}
	defer src.Close()

	metrics := analytics.NewMetrics()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return analytics.Consume(gctx, src, metrics, logger)
	})
	g.Go(func() error {
		ticker := time.NewTicker(CLI.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.Log(logger)
			}
		}
	})
	if err := g.Wait(); err != nil {
		logger.Error("consumer stopped", "err", err)
	}
	metrics.Log(logger)
}
