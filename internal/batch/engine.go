// Package batch buffers decoded events per kind and writes them to a sink
// when a buffer fills or when the caller asks for a flush.
//
// An Engine is not safe for concurrent use. The consumer loop owns it.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"heimdall/internal/codec"
	"heimdall/internal/metrics"
	"heimdall/internal/model"
	"heimdall/internal/storage"
)

const tracerName = "heimdall/internal/batch"

// Config holds engine settings.
type Config struct {
	// BatchSize is the buffer length that triggers a flush of that buffer.
	BatchSize int
	// SinkTimeout bounds each sink call. Zero leaves sink calls unbounded.
	SinkTimeout time.Duration
}

// FlushError is a failed sink call. The rows it carried were discarded.
type FlushError struct {
	Kind    codec.Kind
	Rows    int
	FlushID string
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %d %s rows (%s): %v", e.Rows, e.Kind, e.FlushID, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Pending is a snapshot of buffer lengths.
type Pending struct {
	Accounts     int
	Slots        int
	Transactions int
}

// Engine holds one buffer per event kind.
type Engine struct {
	cfg     Config
	sink    storage.Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	accounts     []model.AccountRow
	slots        []model.SlotRow
	transactions []model.TransactionRow
}

// NewEngine allocates the buffers with capacity cfg.BatchSize.
func NewEngine(cfg Config, sink storage.Sink, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.SinkTimeout < 0 {
		return nil, fmt.Errorf("sink timeout must not be negative")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		accounts:     make([]model.AccountRow, 0, cfg.BatchSize),
		slots:        make([]model.SlotRow, 0, cfg.BatchSize),
		transactions: make([]model.TransactionRow, 0, cfg.BatchSize),
	}, nil
}

// Process decodes payload and appends it to the matching buffer. When that
// buffer reaches BatchSize it is flushed before Process returns. A decode
// failure leaves every buffer untouched.
func (e *Engine) Process(ctx context.Context, topic string, payload []byte) error {
	env, err := codec.Decode(topic, payload)
	if err != nil {
		return err
	}

	createdAt := e.now().UTC()
	switch env.Kind {
	case codec.KindAccount:
		e.accounts = append(e.accounts, model.NewAccountRow(*env.Account, createdAt))
		if len(e.accounts) >= e.cfg.BatchSize {
			return e.flushAccounts(ctx)
		}
	case codec.KindSlot:
		e.slots = append(e.slots, model.NewSlotRow(*env.Slot, createdAt))
		if len(e.slots) >= e.cfg.BatchSize {
			return e.flushSlots(ctx)
		}
	case codec.KindTransaction:
		e.transactions = append(e.transactions, model.NewTransactionRow(*env.Transaction, createdAt))
		if len(e.transactions) >= e.cfg.BatchSize {
			return e.flushTransactions(ctx)
		}
	default:
		return fmt.Errorf("unexpected event kind %s", env.Kind)
	}
	return nil
}

// FlushAll flushes every non-empty buffer in account, slot, transaction
// order. A failed flush does not stop the others; all failures are joined.
func (e *Engine) FlushAll(ctx context.Context) error {
	return errors.Join(
		e.flushAccounts(ctx),
		e.flushSlots(ctx),
		e.flushTransactions(ctx),
	)
}

// Pending reports how many rows wait in each buffer.
func (e *Engine) Pending() Pending {
	return Pending{
		Accounts:     len(e.accounts),
		Slots:        len(e.slots),
		Transactions: len(e.transactions),
	}
}

func (e *Engine) flushAccounts(ctx context.Context) error {
	return flush(ctx, e, codec.KindAccount, &e.accounts, e.sink.InsertAccounts)
}

func (e *Engine) flushSlots(ctx context.Context) error {
	return flush(ctx, e, codec.KindSlot, &e.slots, e.sink.InsertSlots)
}

func (e *Engine) flushTransactions(ctx context.Context) error {
	return flush(ctx, e, codec.KindTransaction, &e.transactions, e.sink.InsertTransactions)
}

// flush hands buf to insert and empties it whatever the outcome. Failed
// rows are not retried.
func flush[T any](ctx context.Context, e *Engine, kind codec.Kind, buf *[]T, insert func(context.Context, []T) error) error {
	rows := *buf
	if len(rows) == 0 {
		return nil
	}
	defer func() {
		clear(rows)
		*buf = rows[:0]
	}()

	flushID := ulid.Make().String()
	ctx, span := e.tracer.Start(ctx, "batch.flush", trace.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.Int("rows", len(rows)),
		attribute.String("flush_id", flushID),
	))
	defer span.End()

	if e.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SinkTimeout)
		defer cancel()
	}

	start := time.Now()
	err := insert(ctx, rows)
	elapsed := time.Since(start)
	e.metrics.Flushed(kind.String(), len(rows), elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &FlushError{Kind: kind, Rows: len(rows), FlushID: flushID, Err: err}
	}

	e.logger.Info("flushed rows",
		zap.String("kind", kind.String()),
		zap.Int("rows", len(rows)),
		zap.String("flush_id", flushID),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}
