package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"heimdall/internal/model"
)

// File names used by JSONLSink inside its directory.
const (
	AccountsFile     = "accounts.jsonl"
	SlotsFile        = "slots.jsonl"
	TransactionsFile = "transactions.jsonl"
)

// JSONLSink appends rows as JSON lines, one file per kind.
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

func NewJSONLSink(dir string) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonl sink: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ConnectionError{Target: dir, Err: err}
	}
	return &JSONLSink{dir: dir}, nil
}

func (s *JSONLSink) InsertAccounts(ctx context.Context, rows []model.AccountRow) error {
	return appendLines(ctx, s, AccountsFile, rows)
}

func (s *JSONLSink) InsertSlots(ctx context.Context, rows []model.SlotRow) error {
	return appendLines(ctx, s, SlotsFile, rows)
}

func (s *JSONLSink) InsertTransactions(ctx context.Context, rows []model.TransactionRow) error {
	return appendLines(ctx, s, TransactionsFile, rows)
}

func appendLines[T any](ctx context.Context, s *JSONLSink, name string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendJSONL(filepath.Join(s.dir, name), rows)
}

// AppendJSONL appends rows to path as JSON lines, creating the file and its
// directory when missing.
func AppendJSONL[T any](path string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, row := range rows {
		line, err := sonic.ConfigStd.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	return nil
}
