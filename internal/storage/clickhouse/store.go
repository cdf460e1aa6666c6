// Package clickhouse stores flushed batches in ClickHouse MergeTree tables.
package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"heimdall/internal/model"
)

// Config holds connection settings. URL is either a DSN such as
// "clickhouse://host:9000" or "http://host:8123", or a bare host:port.
type Config struct {
	URL      string
	Database string
	Username string
	Password string
}

// Store implements storage.Sink.
type Store struct {
	conn driver.Conn
}

// Open ensures the database and tables exist and returns a connected Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("clickhouse database is required")
	}

	admin, err := connect(ctx, cfg, "default")
	if err != nil {
		return nil, err
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(cfg.Database))
	_ = admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", cfg.Database, err)
	}

	conn, err := connect(ctx, cfg, cfg.Database)
	if err != nil {
		return nil, err
	}
	store := &Store{conn: conn}
	if err := store.createTables(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func options(cfg Config, database string) (*clickhouse.Options, error) {
	var opts *clickhouse.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := clickhouse.ParseDSN(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse url: %w", err)
		}
		opts = parsed
	} else {
		if cfg.URL == "" {
			return nil, fmt.Errorf("clickhouse url is required")
		}
		opts = &clickhouse.Options{Addr: []string{cfg.URL}}
	}

	opts.Auth.Database = database
	if cfg.Username != "" {
		opts.Auth.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Auth.Password = cfg.Password
	}
	return opts, nil
}

func connect(ctx context.Context, cfg Config, database string) (driver.Conn, error) {
	opts, err := options(cfg, database)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		slot UInt64,
		pubkey String,
		lamports UInt64,
		owner String,
		executable Bool,
		rent_epoch UInt64,
		data_len UInt64,
		write_version UInt64,
		txn_signature Nullable(String),
		created_at DateTime
	) ENGINE = MergeTree()
	ORDER BY (slot, pubkey)
	PARTITION BY toYYYYMM(created_at)`,
	`CREATE TABLE IF NOT EXISTS slots (
		slot UInt64,
		parent UInt64,
		status String,
		created_at DateTime
	) ENGINE = MergeTree()
	ORDER BY slot
	PARTITION BY toYYYYMM(created_at)`,
	"CREATE TABLE IF NOT EXISTS transactions (\n" +
		"\tsignature String,\n" +
		"\tslot UInt64,\n" +
		"\t`index` UInt64,\n" +
		"\tis_vote Bool,\n" +
		"\tis_successful Bool,\n" +
		"\tfee UInt64,\n" +
		"\tcompute_units_consumed Nullable(UInt64),\n" +
		"\tnum_instructions UInt32,\n" +
		"\tnum_accounts UInt32,\n" +
		"\tcreated_at DateTime\n" +
		") ENGINE = MergeTree()\n" +
		"ORDER BY (slot, `index`)\n" +
		"PARTITION BY toYYYYMM(created_at)",
}

func (s *Store) createTables(ctx context.Context) error {
	for _, ddl := range tableDDL {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertAccounts(ctx context.Context, rows []model.AccountRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO accounts (slot, pubkey, lamports, owner, executable, rent_epoch, data_len, write_version, txn_signature, created_at)`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		err = batch.Append(
			row.Slot,
			row.Pubkey,
			row.Lamports,
			row.Owner,
			row.Executable,
			row.RentEpoch,
			row.DataLen,
			row.WriteVersion,
			row.TxnSignature,
			row.CreatedAt.Truncate(time.Second),
		)
		if err != nil {
			return err
		}
	}
	return batch.Send()
}

func (s *Store) InsertSlots(ctx context.Context, rows []model.SlotRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO slots (slot, parent, status, created_at)`)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		if err := batch.Append(row.Slot, row.Parent, row.Status, row.CreatedAt.Truncate(time.Second)); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (s *Store) InsertTransactions(ctx context.Context, rows []model.TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO transactions (signature, slot, `index`, is_vote, is_successful, fee, compute_units_consumed, num_instructions, num_accounts, created_at)")
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		err = batch.Append(
			row.Signature,
			row.Slot,
			row.Index,
			row.IsVote,
			row.IsSuccessful,
			row.Fee,
			row.ComputeUnitsConsumed,
			row.NumInstructions,
			row.NumAccounts,
			row.CreatedAt.Truncate(time.Second),
		)
		if err != nil {
			return err
		}
	}
	return batch.Send()
}
