package storage

import (
	"context"
	"fmt"

	"heimdall/internal/model"
)

// Sink receives flushed batches, one kind per call, in buffer order.
// Implementations must not keep rows after returning; the caller reuses them.
type Sink interface {
	InsertAccounts(ctx context.Context, rows []model.AccountRow) error
	InsertSlots(ctx context.Context, rows []model.SlotRow) error
	InsertTransactions(ctx context.Context, rows []model.TransactionRow) error
}

// ConnectionError is a failure to reach or prepare a sink at startup.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
