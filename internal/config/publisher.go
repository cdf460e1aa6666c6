package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"heimdall/internal/kafka"
)

// FilterConfig selects which events reach which topics. Keys are base58.
type FilterConfig struct {
	UpdateAccountTopic        string   `mapstructure:"update_account_topic"`
	SlotStatusTopic           string   `mapstructure:"slot_status_topic"`
	TransactionTopic          string   `mapstructure:"transaction_topic"`
	ProgramIgnores            []string `mapstructure:"program_ignores"`
	ProgramFilters            []string `mapstructure:"program_filters"`
	AccountFilters            []string `mapstructure:"account_filters"`
	AccountIgnores            []string `mapstructure:"account_ignores"`
	PublishAllAccounts        bool     `mapstructure:"publish_all_accounts"`
	IncludeVoteTransactions   bool     `mapstructure:"include_vote_transactions"`
	IncludeFailedTransactions bool     `mapstructure:"include_failed_transactions"`
	WrapMessages              bool     `mapstructure:"wrap_messages"`
}

// PublisherConfig holds configuration for the publish command.
type PublisherConfig struct {
	Kafka           kafka.Properties
	ShutdownTimeout time.Duration
	Filters         []FilterConfig
	// In is the replay source; "-" or empty reads stdin.
	In string
	// Errors receives replay lines that could not be parsed. Empty disables it.
	Errors      string
	Checkpoint  string
	LogLevel    string
	MetricsAddr string
}

var publisherFlagBindings = map[string]string{
	"shutdown_timeout_ms": "shutdown-timeout-ms",
	"in":                  "in",
	"errors":              "errors",
	"checkpoint":          "checkpoint",
	"log_level":           "log-level",
	"metrics_addr":        "metrics-addr",
}

// LoadPublisher merges config file, environment variables, and flags into PublisherConfig.
func LoadPublisher(cfgFile string, flags *pflag.FlagSet) (PublisherConfig, error) {
	v, err := load(cfgFile, flags, publisherFlagBindings, map[string]any{
		"shutdown_timeout_ms": 30000,
		"in":                  "-",
		"log_level":           "info",
	})
	if err != nil {
		return PublisherConfig{}, err
	}

	filters, err := decodeFilters(v.Get("filters"))
	if err != nil {
		return PublisherConfig{}, err
	}

	cfg := PublisherConfig{
		Kafka:           kafkaProperties(v),
		ShutdownTimeout: millis(v, "shutdown_timeout_ms"),
		Filters:         filters,
		In:              v.GetString("in"),
		Errors:          v.GetString("errors"),
		Checkpoint:      v.GetString("checkpoint"),
		LogLevel:        v.GetString("log_level"),
		MetricsAddr:     v.GetString("metrics_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return PublisherConfig{}, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c PublisherConfig) Validate() error {
	if err := validateKafka(c.Kafka); err != nil {
		return err
	}
	if c.ShutdownTimeout < 0 {
		return invalid("shutdown_timeout_ms", "must not be negative")
	}
	if len(c.Filters) == 0 {
		return invalid("filters", "at least one filter is required")
	}
	for i, f := range c.Filters {
		if f.UpdateAccountTopic == "" && f.SlotStatusTopic == "" && f.TransactionTopic == "" {
			return invalid(fmt.Sprintf("filters[%d]", i), "no topic configured")
		}
	}
	return nil
}

func decodeFilters(raw any) ([]FilterConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid("filters", "must be a list")
	}

	out := make([]FilterConfig, 0, len(items))
	for i, item := range items {
		fc, err := decodeFilter(item)
		if err != nil {
			return nil, invalid(fmt.Sprintf("filters[%d]", i), err.Error())
		}
		out = append(out, fc)
	}
	return out, nil
}

func decodeFilter(raw any) (FilterConfig, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return FilterConfig{}, fmt.Errorf("must be an object")
	}

	sub := viper.New()
	sub.SetDefault("include_vote_transactions", true)
	sub.SetDefault("include_failed_transactions", true)
	if err := sub.MergeConfigMap(fields); err != nil {
		return FilterConfig{}, err
	}

	var fc FilterConfig
	if err := sub.UnmarshalExact(&fc); err != nil {
		return FilterConfig{}, err
	}
	fc.ProgramIgnores = cleanStrings(fc.ProgramIgnores)
	fc.ProgramFilters = cleanStrings(fc.ProgramFilters)
	fc.AccountFilters = cleanStrings(fc.AccountFilters)
	fc.AccountIgnores = cleanStrings(fc.AccountIgnores)
	return fc, nil
}
