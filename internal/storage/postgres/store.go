package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"heimdall/internal/model"
)

// Store provides Postgres persistence for flushed batches.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn and creates the tables if missing.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Unsigned 64-bit columns are NUMERIC(20, 0) so values above the BIGINT range
// survive. rent_epoch is u64::MAX for rent-exempt accounts.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		slot NUMERIC(20, 0) NOT NULL,
		pubkey TEXT NOT NULL,
		lamports NUMERIC(20, 0) NOT NULL,
		owner TEXT NOT NULL,
		executable BOOLEAN NOT NULL,
		rent_epoch NUMERIC(20, 0) NOT NULL,
		data_len NUMERIC(20, 0) NOT NULL,
		write_version NUMERIC(20, 0) NOT NULL,
		txn_signature TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_slot_pubkey_idx ON accounts (slot, pubkey)`,
	`CREATE TABLE IF NOT EXISTS slots (
		slot NUMERIC(20, 0) NOT NULL,
		parent NUMERIC(20, 0) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS slots_slot_idx ON slots (slot)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		signature TEXT NOT NULL,
		slot NUMERIC(20, 0) NOT NULL,
		tx_index NUMERIC(20, 0) NOT NULL,
		is_vote BOOLEAN NOT NULL,
		is_successful BOOLEAN NOT NULL,
		fee NUMERIC(20, 0) NOT NULL,
		compute_units_consumed NUMERIC(20, 0),
		num_instructions BIGINT NOT NULL,
		num_accounts BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_slot_index_idx ON transactions (slot, tx_index)`,
}

// EnsureSchema creates the append-only tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// nullNumeric maps nil to SQL NULL.
func nullNumeric(v *uint64) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return numeric(*v)
}

const insertAccount = `
	INSERT INTO accounts (
		slot, pubkey, lamports, owner, executable, rent_epoch, data_len, write_version, txn_signature, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const insertSlot = `INSERT INTO slots (slot, parent, status, created_at) VALUES ($1, $2, $3, $4)`

const insertTransaction = `
	INSERT INTO transactions (
		signature, slot, tx_index, is_vote, is_successful, fee, compute_units_consumed, num_instructions, num_accounts, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func accountArgs(row model.AccountRow) []any {
	return []any{
		numeric(row.Slot),
		row.Pubkey,
		numeric(row.Lamports),
		row.Owner,
		row.Executable,
		numeric(row.RentEpoch),
		numeric(row.DataLen),
		numeric(row.WriteVersion),
		row.TxnSignature,
		row.CreatedAt.Truncate(time.Second),
	}
}

func slotArgs(row model.SlotRow) []any {
	return []any{
		numeric(row.Slot),
		numeric(row.Parent),
		row.Status,
		row.CreatedAt.Truncate(time.Second),
	}
}

func transactionArgs(row model.TransactionRow) []any {
	return []any{
		row.Signature,
		numeric(row.Slot),
		numeric(row.Index),
		row.IsVote,
		row.IsSuccessful,
		numeric(row.Fee),
		nullNumeric(row.ComputeUnitsConsumed),
		int64(row.NumInstructions),
		int64(row.NumAccounts),
		row.CreatedAt.Truncate(time.Second),
	}
}

func (s *Store) InsertAccounts(ctx context.Context, rows []model.AccountRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertAccount, accountArgs(row)...)
	}
	return s.send(ctx, batch, len(rows))
}

func (s *Store) InsertSlots(ctx context.Context, rows []model.SlotRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertSlot, slotArgs(row)...)
	}
	return s.send(ctx, batch, len(rows))
}

func (s *Store) InsertTransactions(ctx context.Context, rows []model.TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertTransaction, transactionArgs(row)...)
	}
	return s.send(ctx, batch, len(rows))
}

func (s *Store) send(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
