package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"heimdall/internal/kafka"
)

const envPrefix = "HEIMDALL"

// keyDelimiter replaces viper's "." so Kafka property names such as
// "bootstrap.servers" stay flat keys of the kafka map.
const keyDelimiter = "::"

// ValidationError reports a missing or malformed configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// load merges config file, environment variables, and flags. bindings maps
// config keys to flag names.
func load(cfgFile string, flags *pflag.FlagSet, bindings map[string]string, defaults map[string]any) (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		for key, name := range bindings {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("heimdall")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

// kafkaProperties returns the kafka map merged with the producer defaults.
func kafkaProperties(v *viper.Viper) kafka.Properties {
	props := kafka.Properties{}
	for key, value := range v.GetStringMapString("kafka") {
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kafka.WithDefaults(props)
}

func validateKafka(props kafka.Properties) error {
	if len(props.Brokers()) == 0 {
		return invalid("kafka", "bootstrap.servers is required")
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
