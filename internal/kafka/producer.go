package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// AsyncProducerFactory allows overriding producer creation for testing.
var AsyncProducerFactory = func(brokers []string, cfg *sarama.Config) (sarama.AsyncProducer, error) {
	return sarama.NewAsyncProducer(brokers, cfg)
}

// NewAsyncProducer builds an asynchronous producer from props. Successes and
// errors are both returned so the caller can track delivery.
func NewAsyncProducer(props Properties, logger *zap.Logger) (sarama.AsyncProducer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	brokers := props.Brokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: bootstrap.servers is required")
	}

	cfg, unknown, err := props.SaramaConfig(sarama.NewConfig())
	if err != nil {
		return nil, err
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	warnUnknown(logger, unknown)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}

	producer, err := AsyncProducerFactory(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

func warnUnknown(logger *zap.Logger, keys []string) {
	if len(keys) == 0 {
		return
	}
	logger.Warn("ignoring unsupported kafka properties", zap.Strings("keys", keys))
}
