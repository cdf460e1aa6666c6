package batch

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"heimdall/internal/codec"
	"heimdall/internal/metrics"
	"heimdall/internal/model"
)

type sinkCall struct {
	kind string
	rows int
}

// recordingSink copies what it receives and fails kinds listed in fail.
type recordingSink struct {
	calls        []sinkCall
	accounts     []model.AccountRow
	slots        []model.SlotRow
	transactions []model.TransactionRow
	fail         map[string]error
	block        bool
}

func (s *recordingSink) record(ctx context.Context, kind string, n int) error {
	s.calls = append(s.calls, sinkCall{kind: kind, rows: n})
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fail[kind]
}

func (s *recordingSink) InsertAccounts(ctx context.Context, rows []model.AccountRow) error {
	s.accounts = append(s.accounts, rows...)
	return s.record(ctx, "account", len(rows))
}

func (s *recordingSink) InsertSlots(ctx context.Context, rows []model.SlotRow) error {
	s.slots = append(s.slots, rows...)
	return s.record(ctx, "slot", len(rows))
}

func (s *recordingSink) InsertTransactions(ctx context.Context, rows []model.TransactionRow) error {
	s.transactions = append(s.transactions, rows...)
	return s.record(ctx, "transaction", len(rows))
}

func newEngine(t *testing.T, size int, sink *recordingSink) *Engine {
	t.Helper()
	e, err := NewEngine(Config{BatchSize: size}, sink, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func accountPayload(t *testing.T, b byte) []byte {
	t.Helper()
	_, value, err := codec.EncodeAccount(model.AccountChangeEvent{
		Slot:   uint64(b),
		Pubkey: bytes.Repeat([]byte{b}, 32),
		Owner:  bytes.Repeat([]byte{0x01}, 32),
		Data:   []byte{b, b},
	}, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return value
}

func slotPayload(t *testing.T, slot uint64, wrap bool) []byte {
	t.Helper()
	_, value, err := codec.EncodeSlot(model.SlotStatusEvent{Slot: slot, Parent: slot - 1, Status: model.SlotRooted}, wrap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return value
}

func txPayload(t *testing.T, index uint64) []byte {
	t.Helper()
	_, value, err := codec.EncodeTransaction(model.TransactionEvent{
		Signature: bytes.Repeat([]byte{byte(index)}, 64),
		Slot:      100,
		Index:     index,
		Success:   true,
	}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return value
}

func TestFlushAllOnEmptyBuffersIsNoop(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, 10, sink)

	if err := e.FlushAll(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("expected no sink calls, got %v", sink.calls)
	}
}

func TestThresholdFlushesOnlyFullBuffer(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, 2, sink)
	ctx := context.Background()

	if err := e.Process(ctx, "transactions", txPayload(t, 1)); err != nil {
		t.Fatalf("process tx: %v", err)
	}
	if err := e.Process(ctx, "slots", slotPayload(t, 10, false)); err != nil {
		t.Fatalf("process slot: %v", err)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("flushed too early: %v", sink.calls)
	}
	if err := e.Process(ctx, "slots", slotPayload(t, 11, true)); err != nil {
		t.Fatalf("process slot: %v", err)
	}

	if !reflect.DeepEqual(sink.calls, []sinkCall{{"slot", 2}}) {
		t.Fatalf("calls: %v", sink.calls)
	}
	if got := e.Pending(); got != (Pending{Transactions: 1}) {
		t.Fatalf("pending: %+v", got)
	}
}

func TestThresholdFlushClearsBufferOnFailure(t *testing.T) {
	cause := errors.New("sink down")
	sink := &recordingSink{fail: map[string]error{"slot": cause}}
	e := newEngine(t, 1, sink)

	err := e.Process(context.Background(), "slots", slotPayload(t, 10, false))
	var flushErr *FlushError
	if !errors.As(err, &flushErr) {
		t.Fatalf("expected FlushError, got %v", err)
	}
	if flushErr.Kind != codec.KindSlot || flushErr.Rows != 1 || flushErr.FlushID == "" {
		t.Fatalf("flush error: %+v", flushErr)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if got := e.Pending(); got != (Pending{}) {
		t.Fatalf("buffer not cleared: %+v", got)
	}

	// discarded rows are not retried
	if err := e.FlushAll(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("calls: %v", sink.calls)
	}
}

func TestFlushAllFailuresAreIndependent(t *testing.T) {
	sink := &recordingSink{fail: map[string]error{"account": errors.New("accounts table missing")}}
	e := newEngine(t, 100, sink)
	ctx := context.Background()

	for _, p := range []struct {
		topic   string
		payload []byte
	}{
		{"transactions", txPayload(t, 1)},
		{"slots", slotPayload(t, 5, false)},
		{"accounts", accountPayload(t, 7)},
		{"accounts", accountPayload(t, 8)},
	} {
		if err := e.Process(ctx, p.topic, p.payload); err != nil {
			t.Fatalf("process %s: %v", p.topic, err)
		}
	}

	err := e.FlushAll(ctx)
	var flushErr *FlushError
	if !errors.As(err, &flushErr) || flushErr.Kind != codec.KindAccount || flushErr.Rows != 2 {
		t.Fatalf("expected account FlushError, got %v", err)
	}

	want := []sinkCall{{"account", 2}, {"slot", 1}, {"transaction", 1}}
	if !reflect.DeepEqual(sink.calls, want) {
		t.Fatalf("calls: got %v want %v", sink.calls, want)
	}
	if got := e.Pending(); got != (Pending{}) {
		t.Fatalf("pending after flush: %+v", got)
	}
}

func TestAccountsFlushAtBatchSize(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, 2, sink)
	ctx := context.Background()

	for i := byte(1); i <= 3; i++ {
		if err := e.Process(ctx, "accounts", accountPayload(t, i)); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if i == 1 && len(sink.calls) != 0 {
			t.Fatalf("first event should stay buffered")
		}
	}

	if !reflect.DeepEqual(sink.calls, []sinkCall{{"account", 2}}) {
		t.Fatalf("calls: %v", sink.calls)
	}
	if sink.accounts[0].Slot != 1 || sink.accounts[1].Slot != 2 {
		t.Fatalf("rows out of order: %+v", sink.accounts)
	}
	if e.Pending().Accounts != 1 {
		t.Fatalf("third event should stay buffered: %+v", e.Pending())
	}

	if err := e.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sink.calls) != 2 || sink.accounts[2].Slot != 3 {
		t.Fatalf("final flush: %v %+v", sink.calls, sink.accounts)
	}
}

func TestDecodeFailureLeavesBuffersUntouched(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, 1, sink)

	err := e.Process(context.Background(), "slot", []byte("garbage"))
	var decodeErr *codec.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if e.Pending() != (Pending{}) || len(sink.calls) != 0 {
		t.Fatalf("buffers mutated: %+v %v", e.Pending(), sink.calls)
	}
}

func TestRowsCarryDecodeTime(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, 1, sink)
	decodedAt := time.Date(2024, 3, 9, 10, 11, 12, 500, time.UTC)
	e.now = func() time.Time { return decodedAt }

	if err := e.Process(context.Background(), "accounts", accountPayload(t, 3)); err != nil {
		t.Fatalf("process: %v", err)
	}
	row := sink.accounts[0]
	if !row.CreatedAt.Equal(decodedAt) {
		t.Fatalf("created_at: %s", row.CreatedAt)
	}
	if row.DataLen != 2 {
		t.Fatalf("data len: %d", row.DataLen)
	}
}

func TestSinkTimeout(t *testing.T) {
	sink := &recordingSink{block: true}
	e, err := NewEngine(Config{BatchSize: 1, SinkTimeout: 10 * time.Millisecond}, sink, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	err = e.Process(context.Background(), "slots", slotPayload(t, 2, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if e.Pending() != (Pending{}) {
		t.Fatalf("buffer not cleared after timeout")
	}
}

func TestFlushMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	sink := &recordingSink{}
	e, err := NewEngine(Config{BatchSize: 2}, sink, nil, m)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx := context.Background()
	_ = e.Process(ctx, "slots", slotPayload(t, 2, false))
	_ = e.Process(ctx, "slots", slotPayload(t, 3, false))

	if n := testutil.CollectAndCount(reg, "heimdall_consumer_flushes_total"); n != 1 {
		t.Fatalf("flush series: %d", n)
	}
}

func TestNewEngineValidates(t *testing.T) {
	if _, err := NewEngine(Config{BatchSize: 0}, &recordingSink{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
	if _, err := NewEngine(Config{BatchSize: 1}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil sink")
	}
}
