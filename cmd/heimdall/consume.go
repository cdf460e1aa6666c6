package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heimdall/internal/batch"
	"heimdall/internal/config"
	"heimdall/internal/consumer"
	"heimdall/internal/kafka"
	"heimdall/internal/storage"
	"heimdall/internal/storage/clickhouse"
	"heimdall/internal/storage/postgres"
)

func runConsume(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConsumer(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := kafka.RouteSaramaLogs(logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := newMetrics(ctx, cfg.MetricsAddr, logger)
	if err != nil {
		return err
	}

	sink, closeSink, err := openSink(ctx, cfg.Sink, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	sub, err := kafka.NewSubscriber(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	engine, err := batch.NewEngine(batch.Config{
		BatchSize:   cfg.BatchSize,
		SinkTimeout: cfg.SinkTimeout,
	}, sink, logger, m)
	if err != nil {
		return err
	}

	loop, err := consumer.New(consumer.Config{
		Topics:        cfg.Topics.List(),
		FlushInterval: cfg.FlushInterval,
	}, sub, engine, logger, m)
	if err != nil {
		return err
	}

	logger.Info("consume start",
		zap.Strings("brokers", cfg.Kafka.Brokers()),
		zap.String("group", cfg.Kafka.GroupID()),
		zap.String("sink", cfg.Sink.Kind),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Duration("sink_timeout", cfg.SinkTimeout),
	)

	return loop.Run(ctx)
}

// openSink connects the configured store, retrying while it comes up.
func openSink(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (storage.Sink, func(), error) {
	switch cfg.Kind {
	case config.SinkClickHouse:
		store, err := storage.Connect(ctx, storage.DefaultRetryPolicy, "clickhouse", logger,
			func(ctx context.Context) (*clickhouse.Store, error) {
				return clickhouse.Open(ctx, clickhouse.Config{
					URL:      cfg.URL,
					Database: cfg.Database,
					Username: cfg.Username,
					Password: cfg.Password,
				})
			})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.SinkPostgres:
		store, err := storage.Connect(ctx, storage.DefaultRetryPolicy, "postgres", logger,
			func(ctx context.Context) (*postgres.Store, error) {
				return postgres.NewStore(ctx, cfg.DSN)
			})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.SinkJSONL:
		sink, err := storage.NewJSONLSink(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sink %q", cfg.Kind)
	}
}
