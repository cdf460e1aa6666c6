package kafka

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Metadata keys set on every consumed message.
const (
	MetadataTopic     = "kafka_topic"
	MetadataPartition = "kafka_partition"
	MetadataOffset    = "kafka_offset"
	MetadataKey       = "kafka_key"
)

// SubscriberFactory allows overriding subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// NewSubscriber builds a consumer-group subscriber from props. Offsets are
// committed for acknowledged messages only.
func NewSubscriber(props Properties, logger *zap.Logger) (message.Subscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	brokers := props.Brokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: bootstrap.servers is required")
	}
	group := props.GroupID()
	if group == "" {
		return nil, fmt.Errorf("kafka: group.id is required")
	}

	saramaCfg, unknown, err := props.SaramaConfig(kafka.DefaultSaramaSubscriberConfig())
	if err != nil {
		return nil, err
	}
	warnUnknown(logger, unknown)

	sub, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           metadataUnmarshaler{},
			OverwriteSaramaConfig: saramaCfg,
			ConsumerGroup:         group,
		},
		NewWatermillLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}
	return sub, nil
}

// metadataUnmarshaler keeps the payload untouched and records where the
// message came from.
type metadataUnmarshaler struct{}

func (metadataUnmarshaler) Unmarshal(km *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := kafka.DefaultMarshaler{}.Unmarshal(km)
	if err != nil {
		return nil, err
	}
	msg.Metadata.Set(MetadataTopic, km.Topic)
	msg.Metadata.Set(MetadataPartition, strconv.FormatInt(int64(km.Partition), 10))
	msg.Metadata.Set(MetadataOffset, strconv.FormatInt(km.Offset, 10))
	if km.Key != nil {
		msg.Metadata.Set(MetadataKey, hex.EncodeToString(km.Key))
	}
	return msg, nil
}
