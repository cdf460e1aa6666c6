package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"heimdall/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "heimdall",
		Short:        "Solana account, slot and transaction events through Kafka",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path (JSON)")

	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume events from Kafka into the analytical store",
		RunE:  runConsume,
	}

	consumeCmd.Flags().Int("batch-size", 1000, "rows per kind that trigger a flush")
	consumeCmd.Flags().Int64("flush-interval-ms", 5000, "flush every buffer at this interval")
	consumeCmd.Flags().Int64("sink-timeout-ms", 0, "bound each sink write, 0 means unbounded")
	consumeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	consumeCmd.Flags().String("metrics-addr", "", "listen address for /metrics and /healthz, empty disables")

	root.AddCommand(consumeCmd)

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Filter a JSONL event stream and publish it to Kafka",
		RunE:  runPublish,
	}

	publishCmd.Flags().String("in", "-", "input events JSONL, - reads stdin")
	publishCmd.Flags().String("errors", "", "write unparsable input lines to this JSONL file")
	publishCmd.Flags().String("checkpoint", "", "checkpoint file path, empty disables resume")
	publishCmd.Flags().Int64("shutdown-timeout-ms", 30000, "wait this long for outstanding deliveries on exit")
	publishCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	publishCmd.Flags().String("metrics-addr", "", "listen address for /metrics and /healthz, empty disables")

	root.AddCommand(publishCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// newMetrics registers the pipeline collectors alongside the runtime ones
// and, when addr is set, serves them until ctx is done.
func newMetrics(ctx context.Context, addr string, logger *zap.Logger) (*metrics.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	if addr == "" {
		return m, nil
	}

	go func() {
		if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return m, nil
}
