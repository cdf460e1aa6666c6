package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"heimdall/internal/model"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestJSONLSinkAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewJSONLSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	units := uint64(300)

	if err := sink.InsertSlots(ctx, []model.SlotRow{{Slot: 1, Parent: 0, Status: "Rooted", CreatedAt: created}}); err != nil {
		t.Fatalf("insert slots: %v", err)
	}
	if err := sink.InsertSlots(ctx, []model.SlotRow{{Slot: 2, Parent: 1, Status: "Processed", CreatedAt: created}}); err != nil {
		t.Fatalf("insert slots: %v", err)
	}
	if err := sink.InsertTransactions(ctx, []model.TransactionRow{{Signature: "sig", Slot: 2, ComputeUnitsConsumed: &units, CreatedAt: created}}); err != nil {
		t.Fatalf("insert transactions: %v", err)
	}
	if err := sink.InsertAccounts(ctx, nil); err != nil {
		t.Fatalf("insert empty accounts: %v", err)
	}

	slots := readLines(t, filepath.Join(dir, SlotsFile))
	if len(slots) != 2 {
		t.Fatalf("expected 2 slot lines, got %d", len(slots))
	}
	var row model.SlotRow
	if err := sonic.ConfigStd.UnmarshalFromString(slots[1], &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row.Slot != 2 || row.Status != "Processed" || !row.CreatedAt.Equal(created) {
		t.Fatalf("row mismatch: %+v", row)
	}

	txs := readLines(t, filepath.Join(dir, TransactionsFile))
	var tx model.TransactionRow
	if err := sonic.ConfigStd.UnmarshalFromString(txs[0], &tx); err != nil {
		t.Fatalf("unmarshal tx: %v", err)
	}
	if tx.ComputeUnitsConsumed == nil || *tx.ComputeUnitsConsumed != 300 {
		t.Fatalf("compute units: %v", tx.ComputeUnitsConsumed)
	}

	if _, err := os.Stat(filepath.Join(dir, AccountsFile)); !os.IsNotExist(err) {
		t.Fatalf("empty insert should not create a file: %v", err)
	}
}

func TestJSONLSinkHonoursContext(t *testing.T) {
	sink, err := NewJSONLSink(t.TempDir())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.InsertSlots(ctx, []model.SlotRow{{Slot: 1}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestAppendJSONLCreatesDirAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "errors.jsonl")
	type entry struct {
		Line int64 `json:"line"`
	}

	if err := AppendJSONL(path, []entry{{Line: 1}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := AppendJSONL(path, []entry{{Line: 2}, {Line: 3}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	lines := readLines(t, path)
	want := []string{`{"line":1}`, `{"line":2}`, `{"line":3}`}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines: got %v want %v", lines, want)
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	got, err := Connect(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, "test", nil,
		func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("unavailable")
			}
			return "conn", nil
		})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got != "conn" || attempts != 3 {
		t.Fatalf("got %q after %d attempts", got, attempts)
	}
}

func TestConnectGivesUp(t *testing.T) {
	attempts := 0
	cause := errors.New("refused")
	_, err := Connect(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, "clickhouse", nil,
		func(context.Context) (int, error) {
			attempts++
			return 0, cause
		})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Target != "clickhouse" {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts: %d", attempts)
	}
}

func TestConnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, RetryPolicy{MaxRetries: 10, BaseDelay: time.Hour}, "pg", nil,
		func(context.Context) (int, error) { return 0, errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
