package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"heimdall/internal/kafka"
)

// Sink kinds.
const (
	SinkClickHouse = "clickhouse"
	SinkPostgres   = "postgres"
	SinkJSONL      = "jsonl"
)

// ConsumerConfig holds configuration for the consume command.
type ConsumerConfig struct {
	Kafka         kafka.Properties
	Sink          SinkConfig
	Topics        TopicConfig
	BatchSize     int
	FlushInterval time.Duration
	// SinkTimeout bounds each sink call. Zero leaves sink calls unbounded.
	SinkTimeout time.Duration
	LogLevel    string
	MetricsAddr string
}

// SinkConfig selects and configures the analytical store.
type SinkConfig struct {
	Kind     string
	URL      string
	Database string
	Username string
	Password string
	DSN      string
	Path     string
}

// TopicConfig names the topics the consumer subscribes to.
type TopicConfig struct {
	Accounts     string
	Slots        string
	Transactions string
}

// List returns the configured topics in account, slot, transaction order.
func (t TopicConfig) List() []string {
	return []string{t.Accounts, t.Slots, t.Transactions}
}

var consumerFlagBindings = map[string]string{
	"batch_size":        "batch-size",
	"flush_interval_ms": "flush-interval-ms",
	"sink_timeout_ms":   "sink-timeout-ms",
	"log_level":         "log-level",
	"metrics_addr":      "metrics-addr",
}

// LoadConsumer merges config file, environment variables, and flags into ConsumerConfig.
func LoadConsumer(cfgFile string, flags *pflag.FlagSet) (ConsumerConfig, error) {
	v, err := load(cfgFile, flags, consumerFlagBindings, map[string]any{
		"batch_size":        1000,
		"flush_interval_ms": 5000,
		"sink_timeout_ms":   0,
		"log_level":         "info",
	})
	if err != nil {
		return ConsumerConfig{}, err
	}

	sinkKey := "sink"
	kind := v.GetString("sink::kind")
	if kind == "" && v.IsSet("clickhouse") {
		sinkKey = "clickhouse"
	}
	if kind == "" {
		kind = SinkClickHouse
	}

	cfg := ConsumerConfig{
		Kafka: kafkaProperties(v),
		Sink: SinkConfig{
			Kind:     kind,
			URL:      v.GetString(sinkKey + keyDelimiter + "url"),
			Database: v.GetString(sinkKey + keyDelimiter + "database"),
			Username: v.GetString(sinkKey + keyDelimiter + "username"),
			Password: v.GetString(sinkKey + keyDelimiter + "password"),
			DSN:      v.GetString(sinkKey + keyDelimiter + "dsn"),
			Path:     v.GetString(sinkKey + keyDelimiter + "path"),
		},
		Topics: TopicConfig{
			Accounts:     v.GetString("topics::accounts"),
			Slots:        v.GetString("topics::slots"),
			Transactions: v.GetString("topics::transactions"),
		},
		BatchSize:     v.GetInt("batch_size"),
		FlushInterval: millis(v, "flush_interval_ms"),
		SinkTimeout:   millis(v, "sink_timeout_ms"),
		LogLevel:      v.GetString("log_level"),
		MetricsAddr:   v.GetString("metrics_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return ConsumerConfig{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c ConsumerConfig) Validate() error {
	if err := validateKafka(c.Kafka); err != nil {
		return err
	}
	if c.Kafka.GroupID() == "" {
		return invalid("kafka", "group.id is required")
	}
	if c.Topics.Accounts == "" || c.Topics.Slots == "" || c.Topics.Transactions == "" {
		return invalid("topics", "accounts, slots and transactions are required")
	}
	if c.BatchSize <= 0 {
		return invalid("batch_size", "must be greater than zero")
	}
	if c.FlushInterval <= 0 {
		return invalid("flush_interval_ms", "must be greater than zero")
	}
	if c.SinkTimeout < 0 {
		return invalid("sink_timeout_ms", "must not be negative")
	}
	return c.Sink.validate()
}

func (s SinkConfig) validate() error {
	switch s.Kind {
	case SinkClickHouse:
		if s.URL == "" {
			return invalid("sink.url", "required for clickhouse")
		}
		if s.Database == "" {
			return invalid("sink.database", "required for clickhouse")
		}
	case SinkPostgres:
		if s.DSN == "" {
			return invalid("sink.dsn", "required for postgres")
		}
	case SinkJSONL:
		if s.Path == "" {
			return invalid("sink.path", "required for jsonl")
		}
	default:
		return invalid("sink.kind", fmt.Sprintf("unsupported sink %q", s.Kind))
	}
	return nil
}
