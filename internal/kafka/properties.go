// Package kafka maps librdkafka-style client properties onto sarama and
// builds the producer and subscriber used by the publish and consume commands.
package kafka

import (
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Properties is a flat map of Kafka client settings keyed by their
// librdkafka names, e.g. "bootstrap.servers".
type Properties map[string]string

var producerDefaults = Properties{
	"request.required.acks": "1",
	"message.timeout.ms":    "30000",
	"compression.type":      "lz4",
	"partitioner":           "murmur2_random",
}

// WithDefaults returns a copy of p with the producer defaults filled in for
// keys p does not set.
func WithDefaults(p Properties) Properties {
	out := make(Properties, len(p)+len(producerDefaults))
	for k, v := range producerDefaults {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Brokers returns the configured broker list.
func (p Properties) Brokers() []string {
	raw := p["bootstrap.servers"]
	if raw == "" {
		raw = p["metadata.broker.list"]
	}
	var out []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

// GroupID returns the consumer group id.
func (p Properties) GroupID() string {
	return p["group.id"]
}

// QueueLimit returns queue.buffering.max.messages, or 0 when it is unset or
// not a positive number.
func (p Properties) QueueLimit() int64 {
	n, err := strconv.ParseInt(p["queue.buffering.max.messages"], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SaramaConfig translates p into a sarama configuration layered over base.
// Keys sarama has no equivalent for are returned so the caller can warn.
func (p Properties) SaramaConfig(base *sarama.Config) (*sarama.Config, []string, error) {
	cfg := base
	if cfg == nil {
		cfg = sarama.NewConfig()
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var unknown []string
	for _, key := range keys {
		value := strings.TrimSpace(p[key])
		handled, err := apply(cfg, key, value)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka property %s=%q: %w", key, value, err)
		}
		if !handled {
			unknown = append(unknown, key)
		}
	}

	return cfg, unknown, nil
}

func apply(cfg *sarama.Config, key, value string) (bool, error) {
	switch key {
	case "bootstrap.servers", "metadata.broker.list", "group.id":
		// consumed by Brokers and GroupID
	case "client.id":
		cfg.ClientID = value
	case "request.required.acks", "acks":
		acks, err := parseAcks(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.RequiredAcks = acks
	case "message.timeout.ms", "request.timeout.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Timeout = d
	case "compression.type", "compression.codec":
		var codec sarama.CompressionCodec
		if err := codec.UnmarshalText([]byte(value)); err != nil {
			return true, err
		}
		cfg.Producer.Compression = codec
	case "partitioner":
		ctor, err := partitionerFor(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Partitioner = ctor
	case "queue.buffering.max.messages":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		cfg.ChannelBufferSize = n
	case "linger.ms", "queue.buffering.max.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Flush.Frequency = d
	case "batch.num.messages":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Flush.Messages = n
	case "message.max.bytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.MaxMessageBytes = n
	case "retries", "message.send.max.retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Retry.Max = n
	case "retry.backoff.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Retry.Backoff = d
		cfg.Consumer.Retry.Backoff = d
	case "enable.idempotence":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return true, err
		}
		cfg.Producer.Idempotent = b
		if b {
			cfg.Producer.RequiredAcks = sarama.WaitForAll
			cfg.Net.MaxOpenRequests = 1
		}
	case "auto.offset.reset":
		switch value {
		case "earliest", "smallest", "beginning":
			cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
		case "latest", "largest", "end":
			cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
		default:
			return true, fmt.Errorf("unsupported value")
		}
	case "enable.auto.commit":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return true, err
		}
		cfg.Consumer.Offsets.AutoCommit.Enable = b
	case "auto.commit.interval.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Consumer.Offsets.AutoCommit.Interval = d
	case "session.timeout.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Consumer.Group.Session.Timeout = d
	case "heartbeat.interval.ms":
		d, err := parseMillis(value)
		if err != nil {
			return true, err
		}
		cfg.Consumer.Group.Heartbeat.Interval = d
	case "security.protocol":
		switch strings.ToLower(value) {
		case "plaintext":
		case "ssl":
			cfg.Net.TLS.Enable = true
		case "sasl_plaintext":
			cfg.Net.SASL.Enable = true
		case "sasl_ssl":
			cfg.Net.SASL.Enable = true
			cfg.Net.TLS.Enable = true
		default:
			return true, fmt.Errorf("unsupported value")
		}
		if cfg.Net.TLS.Enable && cfg.Net.TLS.Config == nil {
			cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	case "sasl.mechanism", "sasl.mechanisms":
		switch strings.ToUpper(value) {
		case sarama.SASLTypePlaintext:
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return true, fmt.Errorf("unsupported value")
		}
	case "sasl.username":
		cfg.Net.SASL.User = value
	case "sasl.password":
		cfg.Net.SASL.Password = value
	default:
		return false, nil
	}
	return true, nil
}

func parseAcks(value string) (sarama.RequiredAcks, error) {
	switch value {
	case "all", "-1":
		return sarama.WaitForAll, nil
	case "0":
		return sarama.NoResponse, nil
	case "1":
		return sarama.WaitForLocal, nil
	}
	return 0, fmt.Errorf("unsupported value")
}

func parseMillis(value string) (time.Duration, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
