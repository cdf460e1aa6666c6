// Package consumer drives the consume side: it receives messages from the
// log, hands them to a processor, flushes on a timer and on shutdown.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"heimdall/internal/codec"
	"heimdall/internal/kafka"
	"heimdall/internal/metrics"
)

// DefaultFlushInterval is used when Config.FlushInterval is zero.
const DefaultFlushInterval = 5 * time.Second

// ErrSubscriptionClosed is returned by Run when every subscription channel
// closed before the context was cancelled.
var ErrSubscriptionClosed = errors.New("subscriptions closed")

// Processor consumes decoded payloads. batch.Engine implements it.
type Processor interface {
	Process(ctx context.Context, topic string, payload []byte) error
	FlushAll(ctx context.Context) error
}

// Config holds loop settings.
type Config struct {
	Topics        []string
	FlushInterval time.Duration
}

// Loop owns the processor. Only the goroutine running Run touches it.
type Loop struct {
	cfg     Config
	sub     message.Subscriber
	proc    Processor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type delivery struct {
	topic string
	msg   *message.Message
}

func New(cfg Config, sub message.Subscriber, proc Processor, logger *zap.Logger, m *metrics.Metrics) (*Loop, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber is nil")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is nil")
	}
	cfg.Topics = uniqueTopics(cfg.Topics)
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("flush interval must not be negative")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{cfg: cfg, sub: sub, proc: proc, logger: logger, metrics: m}, nil
}

// Run processes messages until ctx is cancelled, then flushes every buffer
// once and returns nil. Every received message is acknowledged after
// processing, whether or not processing succeeded. Sink work runs on a
// context that outlives ctx so a flush in progress at shutdown completes.
func (l *Loop) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan delivery)
	var wg sync.WaitGroup
	for _, topic := range l.cfg.Topics {
		ch, err := l.sub.Subscribe(subCtx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			forward(subCtx, topic, ch, deliveries)
		}(topic, ch)
	}
	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	l.logger.Info("consumer start",
		zap.Strings("topics", l.cfg.Topics),
		zap.Duration("flush_interval", l.cfg.FlushInterval),
	)

	work := context.WithoutCancel(ctx)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("consumer stopping")
			l.flush(work, "shutdown")
			return nil
		case d := <-deliveries:
			l.handle(work, d)
		case <-ticker.C:
			l.flush(work, "interval")
		case <-closed:
			l.flush(work, "shutdown")
			if ctx.Err() != nil {
				return nil
			}
			return ErrSubscriptionClosed
		}
	}
}

// forward moves messages from one subscription into out. A message that
// cannot be handed over before shutdown is nacked for redelivery.
func forward(ctx context.Context, topic string, in <-chan *message.Message, out chan<- delivery) {
	for msg := range in {
		select {
		case out <- delivery{topic: topic, msg: msg}:
		case <-ctx.Done():
			msg.Nack()
			return
		}
	}
}

func (l *Loop) handle(ctx context.Context, d delivery) {
	err := l.proc.Process(ctx, d.topic, d.msg.Payload)
	l.metrics.Consumed(d.topic, err)
	if err != nil {
		fields := []zap.Field{
			zap.String("topic", d.topic),
			zap.String("partition", d.msg.Metadata.Get(kafka.MetadataPartition)),
			zap.String("offset", d.msg.Metadata.Get(kafka.MetadataOffset)),
			zap.Error(err),
		}
		var decodeErr *codec.DecodeError
		if errors.As(err, &decodeErr) {
			l.logger.Warn("drop undecodable message", fields...)
		} else {
			l.logger.Error("process message failed", fields...)
		}
	}
	d.msg.Ack()
}

func (l *Loop) flush(ctx context.Context, reason string) {
	if err := l.proc.FlushAll(ctx); err != nil {
		l.logger.Error("flush failed", zap.String("reason", reason), zap.Error(err))
	}
}

func uniqueTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
