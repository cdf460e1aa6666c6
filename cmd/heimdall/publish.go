package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heimdall/internal/config"
	"heimdall/internal/filter"
	"heimdall/internal/kafka"
	"heimdall/internal/publisher"
	"heimdall/internal/source"
	"heimdall/internal/storage"
)

func runPublish(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPublisher(cfgFile, cmd.Flags())
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

	input, closeInput, err := openInput(cfg.In)
	if err != nil {
		return err
	}
	defer closeInput()

	producer, err := kafka.NewAsyncProducer(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	pub := publisher.New(producer, publisher.Config{
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxInFlight:     cfg.Kafka.QueueLimit(),
	}, logger, m)
	defer pub.Close()

	filters := make([]*filter.Filter, 0, len(cfg.Filters))
	for _, fc := range cfg.Filters {
		filters = append(filters, filter.New(fc, logger))
	}
	dispatcher := source.NewDispatcher(filters, pub, logger, m)

	replayer := source.NewReplayer(dispatcher, source.ReplayOptions{
		Checkpoint:   source.NewCheckpointStore(cfg.Checkpoint),
		Flusher:      pub,
		FlushTimeout: cfg.ShutdownTimeout,
		OnBadLine:    badLineRecorder(cfg.Errors, logger),
	}, logger)

	logger.Info("publish start",
		zap.Strings("brokers", cfg.Kafka.Brokers()),
		zap.Int("filters", len(filters)),
		zap.String("in", cfg.In),
		zap.String("errors", cfg.Errors),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
	)

	stats, err := replayer.Run(ctx, input)

	logger.Info("publish complete",
		zap.Int("total", stats.Total),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int64("in_flight", pub.InFlightCount()),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// badLineRecorder logs unparsable lines and appends them to path when set.
func badLineRecorder(path string, logger *zap.Logger) func(source.BadLine) {
	return func(bad source.BadLine) {
		logger.Warn("skip unparsable line", zap.Int64("line", bad.Line), zap.String("error", bad.Error))
		if path == "" {
			return
		}
		if err := storage.AppendJSONL(path, []source.BadLine{bad}); err != nil {
			logger.Error("record bad line failed", zap.String("path", path), zap.Error(err))
		}
	}
}
