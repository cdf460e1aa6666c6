// Package publisher submits encoded events to Kafka without waiting for
// delivery and drains outstanding sends on shutdown.
package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"heimdall/internal/codec"
	"heimdall/internal/metrics"
	"heimdall/internal/model"
)

var (
	ErrTopicRequired = errors.New("publisher: topic is required")
	ErrQueueFull     = errors.New("publisher: in-flight limit reached")
	ErrClosed        = errors.New("publisher: closed")
	ErrFlushTimeout  = errors.New("publisher: flush timed out")
)

// PublishError is a send the broker rejected after submission.
type PublishError struct {
	Topic string
	Kind  codec.Kind
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %q: %v", e.Kind, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Config holds publisher settings.
type Config struct {
	// ShutdownTimeout bounds the flush performed by Close.
	ShutdownTimeout time.Duration
	// MaxInFlight caps messages awaiting a delivery report. Publishing past
	// it returns ErrQueueFull. Zero means no cap; the send then waits for
	// room in the producer.
	MaxInFlight int64
}

const flushPollInterval = 5 * time.Millisecond

// Publisher is safe for concurrent use.
type Publisher struct {
	cfg      Config
	producer sarama.AsyncProducer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	inFlight atomic.Int64

	// closeMu keeps Close from closing the input channel under a send.
	// closing releases sends blocked on the input channel.
	closeMu   sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
	drained   chan struct{}
}

// New starts draining producer's delivery reports. producer must be
// configured with Return.Successes and Return.Errors enabled.
func New(producer sarama.AsyncProducer, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		cfg:      cfg,
		producer: producer,
		logger:   logger,
		metrics:  m,
		closing:  make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go p.drain()
	return p
}

// PublishAccount submits ev to topic. A nil error means the message was
// queued, not delivered.
func (p *Publisher) PublishAccount(ev model.AccountChangeEvent, wrap bool, topic string) error {
	key, value, err := codec.EncodeAccount(ev, wrap)
	if err != nil {
		return err
	}
	return p.send(codec.KindAccount, topic, key, value)
}

// PublishSlot submits ev to topic.
func (p *Publisher) PublishSlot(ev model.SlotStatusEvent, wrap bool, topic string) error {
	key, value, err := codec.EncodeSlot(ev, wrap)
	if err != nil {
		return err
	}
	return p.send(codec.KindSlot, topic, key, value)
}

// PublishTransaction submits ev to topic.
func (p *Publisher) PublishTransaction(ev model.TransactionEvent, wrap bool, topic string) error {
	key, value, err := codec.EncodeTransaction(ev, wrap)
	if err != nil {
		return err
	}
	return p.send(codec.KindTransaction, topic, key, value)
}

func (p *Publisher) send(kind codec.Kind, topic string, key, value []byte) error {
	err := p.enqueue(kind, topic, key, value)
	p.metrics.Published(kind.String(), err)
	return err
}

func (p *Publisher) enqueue(kind codec.Kind, topic string, key, value []byte) error {
	if topic == "" {
		return ErrTopicRequired
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	msg := &sarama.ProducerMessage{
		Topic:    topic,
		Key:      sarama.ByteEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: kind,
	}

	n := p.inFlight.Add(1)
	if p.cfg.MaxInFlight > 0 && n > p.cfg.MaxInFlight {
		p.metrics.SetInFlight(p.inFlight.Add(-1))
		return ErrQueueFull
	}
	p.metrics.SetInFlight(n)

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-p.closing:
		p.metrics.SetInFlight(p.inFlight.Add(-1))
		return ErrClosed
	}
}

// InFlightCount is the number of queued messages without a delivery report.
func (p *Publisher) InFlightCount() int64 {
	return p.inFlight.Load()
}

// Flush blocks until every queued message has a delivery report or timeout
// elapses.
func (p *Publisher) Flush(timeout time.Duration) error {
	if p.inFlight.Load() <= 0 {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			n := p.inFlight.Load()
			if n <= 0 {
				return nil
			}
			return fmt.Errorf("%w: %d messages in flight", ErrFlushTimeout, n)
		case <-ticker.C:
			if p.inFlight.Load() <= 0 {
				return nil
			}
		}
	}
}

// Close flushes for at most ShutdownTimeout, then closes the producer. A
// failed flush is logged; Close always completes. Sends still waiting for
// the producer when the flush ends return ErrClosed.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if err := p.Flush(p.cfg.ShutdownTimeout); err != nil {
			p.logger.Warn("flush before close incomplete", zap.Error(err))
		}

		close(p.closing)
		p.closeMu.Lock()
		p.closed = true
		p.closeMu.Unlock()

		p.producer.AsyncClose()

		timer := time.NewTimer(p.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-p.drained:
		case <-timer.C:
			p.logger.Warn("producer did not shut down in time", zap.Int64("in_flight", p.inFlight.Load()))
		}
	})
}

func (p *Publisher) drain() {
	defer close(p.drained)

	successes := p.producer.Successes()
	errs := p.producer.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.settle(msg, nil)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.settle(perr.Msg, perr.Err)
		}
	}
}

// settle records a delivery report. The in-flight count drops last so a
// Flush that returns has seen every report logged.
func (p *Publisher) settle(msg *sarama.ProducerMessage, err error) {
	defer func() { p.metrics.SetInFlight(p.inFlight.Add(-1)) }()

	if msg == nil {
		p.logger.Error("publish failed", zap.Error(err))
		return
	}

	kind, _ := msg.Metadata.(codec.Kind)
	p.metrics.Delivered(kind.String(), err)
	if err == nil {
		return
	}

	perr := &PublishError{Topic: msg.Topic, Kind: kind, Err: err}
	p.logger.Error("publish failed", zap.Error(perr), zap.String("topic", msg.Topic))
}
