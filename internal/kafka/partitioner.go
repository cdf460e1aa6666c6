package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
)

// Murmur2 is the hash Kafka's Java client and librdkafka use for keyed
// partitioning, so keys land on the same partition regardless of producer.
func Murmur2(data []byte) int32 {
	const (
		seed uint32 = 0x9747b28c
		m    uint32 = 0x5bd1e995
		r           = 24
	)

	length := len(data)
	h := seed ^ uint32(length)

	for i := 0; i+4 <= length; i += 4 {
		k := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
	}

	tail := length &^ 3
	switch length % 4 {
	case 3:
		h ^= uint32(data[tail+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[tail+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[tail])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return int32(h)
}

type murmur2Partitioner struct {
	randomOnNil bool
	random      sarama.Partitioner
}

// NewMurmur2Partitioner hashes keys with Murmur2. Messages without a key all
// go to the partition of the empty key.
func NewMurmur2Partitioner(topic string) sarama.Partitioner {
	return &murmur2Partitioner{}
}

// NewMurmur2RandomPartitioner hashes keys with Murmur2 and spreads keyless
// messages randomly.
func NewMurmur2RandomPartitioner(topic string) sarama.Partitioner {
	return &murmur2Partitioner{randomOnNil: true, random: sarama.NewRandomPartitioner(topic)}
}

func (p *murmur2Partitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if numPartitions <= 0 {
		return -1, fmt.Errorf("no partitions available")
	}

	var key []byte
	if msg.Key != nil {
		encoded, err := msg.Key.Encode()
		if err != nil {
			return -1, err
		}
		key = encoded
	}
	if key == nil && p.randomOnNil {
		return p.random.Partition(msg, numPartitions)
	}

	return (Murmur2(key) & 0x7fffffff) % numPartitions, nil
}

func (p *murmur2Partitioner) RequiresConsistency() bool {
	return true
}

func (p *murmur2Partitioner) MessageRequiresConsistency(msg *sarama.ProducerMessage) bool {
	return msg.Key != nil || !p.randomOnNil
}

func partitionerFor(name string) (sarama.PartitionerConstructor, error) {
	switch name {
	case "murmur2_random":
		return NewMurmur2RandomPartitioner, nil
	case "murmur2":
		return NewMurmur2Partitioner, nil
	case "random":
		return sarama.NewRandomPartitioner, nil
	case "consistent", "consistent_random":
		return sarama.NewHashPartitioner, nil
	}
	return nil, fmt.Errorf("unsupported partitioner")
}
