package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"heimdall/internal/model"
)

// Record kinds accepted in a replay stream.
const (
	RecordAccount     = "account"
	RecordSlot        = "slot"
	RecordTransaction = "transaction"
)

const defaultCheckpointEvery = 1000

// Record is one line of a replay stream. Keys and signatures are base58,
// account data is base64.
type Record struct {
	Kind      string `json:"kind"`
	IsStartup bool   `json:"is_startup,omitempty"`
	Slot      uint64 `json:"slot"`

	Pubkey       string `json:"pubkey,omitempty"`
	Lamports     uint64 `json:"lamports,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Executable   bool   `json:"executable,omitempty"`
	RentEpoch    uint64 `json:"rent_epoch,omitempty"`
	Data         []byte `json:"data,omitempty"`
	WriteVersion uint64 `json:"write_version,omitempty"`
	TxnSignature string `json:"txn_signature,omitempty"`

	Parent uint64 `json:"parent,omitempty"`
	Status string `json:"status,omitempty"`

	Signature            string   `json:"signature,omitempty"`
	Index                uint64   `json:"index,omitempty"`
	IsVote               bool     `json:"is_vote,omitempty"`
	Success              *bool    `json:"success,omitempty"`
	Fee                  uint64   `json:"fee,omitempty"`
	NumInstructions      uint32   `json:"num_instructions,omitempty"`
	NumAccounts          uint32   `json:"num_accounts,omitempty"`
	ComputeUnitsConsumed *uint64  `json:"compute_units_consumed,omitempty"`
	AccountKeys          []string `json:"account_keys,omitempty"`
}

// ParseRecord decodes one JSON line.
func ParseRecord(line []byte) (Record, error) {
	var rec Record
	if err := sonic.ConfigStd.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	switch rec.Kind {
	case RecordAccount, RecordSlot, RecordTransaction:
		return rec, nil
	case "":
		return Record{}, fmt.Errorf("record kind is required")
	default:
		return Record{}, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// AccountEvent converts an account record.
func (r Record) AccountEvent() (model.AccountChangeEvent, error) {
	pubkey, err := publicKey(r.Pubkey, "pubkey")
	if err != nil {
		return model.AccountChangeEvent{}, err
	}
	owner, err := publicKey(r.Owner, "owner")
	if err != nil {
		return model.AccountChangeEvent{}, err
	}
	ev := model.AccountChangeEvent{
		Slot:         r.Slot,
		Pubkey:       pubkey,
		Lamports:     r.Lamports,
		Owner:        owner,
		Executable:   r.Executable,
		RentEpoch:    r.RentEpoch,
		Data:         r.Data,
		WriteVersion: r.WriteVersion,
	}
	if r.TxnSignature != "" {
		if ev.TxnSignature, err = signature(r.TxnSignature, "txn_signature"); err != nil {
			return model.AccountChangeEvent{}, err
		}
	}
	return ev, nil
}

// SlotEvent converts a slot record. Status is the status name.
func (r Record) SlotEvent() (model.SlotStatusEvent, error) {
	status, err := model.ParseSlotStatus(r.Status)
	if err != nil {
		return model.SlotStatusEvent{}, err
	}
	return model.SlotStatusEvent{Slot: r.Slot, Parent: r.Parent, Status: status}, nil
}

// TransactionEvent converts a transaction record. A missing success flag
// means the transaction succeeded.
func (r Record) TransactionEvent() (model.TransactionEvent, error) {
	if r.Signature == "" {
		return model.TransactionEvent{}, fmt.Errorf("signature is required")
	}
	sig, err := signature(r.Signature, "signature")
	if err != nil {
		return model.TransactionEvent{}, err
	}
	ev := model.TransactionEvent{
		Signature:            sig,
		Slot:                 r.Slot,
		Index:                r.Index,
		IsVote:               r.IsVote,
		Success:              r.Success == nil || *r.Success,
		Fee:                  r.Fee,
		NumInstructions:      r.NumInstructions,
		NumAccounts:          r.NumAccounts,
		ComputeUnitsConsumed: r.ComputeUnitsConsumed,
	}
	for i, s := range r.AccountKeys {
		key, err := publicKey(s, fmt.Sprintf("account_keys[%d]", i))
		if err != nil {
			return model.TransactionEvent{}, err
		}
		ev.AccountKeys = append(ev.AccountKeys, key)
	}
	return ev, nil
}

func publicKey(s, field string) ([]byte, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return key.Bytes(), nil
}

func signature(s, field string) ([]byte, error) {
	sig, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return sig, nil
}

// Dispatch hands rec to l.
func (r Record) Dispatch(l Listener) error {
	switch r.Kind {
	case RecordAccount:
		ev, err := r.AccountEvent()
		if err != nil {
			return err
		}
		return l.OnAccountChange(ev, r.IsStartup)
	case RecordSlot:
		ev, err := r.SlotEvent()
		if err != nil {
			return err
		}
		return l.OnSlotStatus(ev)
	case RecordTransaction:
		ev, err := r.TransactionEvent()
		if err != nil {
			return err
		}
		return l.OnTransaction(ev)
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

// BadLine describes a replay line that could not be turned into an event.
type BadLine struct {
	Line  int64  `json:"line"`
	Raw   string `json:"raw"`
	Error string `json:"error"`
}

// ReplayStats summarises one Run.
type ReplayStats struct {
	Total      int
	Dispatched int
	Skipped    int
	Failed     int
}

// Flusher waits until submitted events are acknowledged by the log.
// publisher.Publisher implements it.
type Flusher interface {
	Flush(timeout time.Duration) error
}

// ReplayOptions configures a Replayer. Every field is optional.
type ReplayOptions struct {
	Checkpoint *CheckpointStore
	// Flusher is flushed before each checkpoint save. The checkpoint does
	// not advance when the flush fails.
	Flusher      Flusher
	FlushTimeout time.Duration
	OnBadLine    func(BadLine)
}

// Replayer feeds a JSONL event stream to a Listener.
type Replayer struct {
	listener        Listener
	checkpoint      *CheckpointStore
	flusher         Flusher
	flushTimeout    time.Duration
	logger          *zap.Logger
	onBadLine       func(BadLine)
	checkpointEvery int64
}

func NewReplayer(l Listener, opts ReplayOptions, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OnBadLine == nil {
		opts.OnBadLine = func(BadLine) {}
	}
	return &Replayer{
		listener:        l,
		checkpoint:      opts.Checkpoint,
		flusher:         opts.Flusher,
		flushTimeout:    opts.FlushTimeout,
		logger:          logger,
		onBadLine:       opts.OnBadLine,
		checkpointEvery: defaultCheckpointEvery,
	}
}

// commit saves the checkpoint once everything dispatched so far has been
// acknowledged. A failed flush leaves the checkpoint where it was.
func (r *Replayer) commit(line int64, slot uint64) error {
	if !r.checkpoint.enabled() {
		return nil
	}
	if r.flusher != nil {
		if err := r.flusher.Flush(r.flushTimeout); err != nil {
			r.logger.Warn("checkpoint held back", zap.Int64("line", line), zap.Error(err))
			return nil
		}
	}
	return r.checkpoint.Save(line, slot)
}

// Run reads in until EOF or until ctx is cancelled. Lines at or before the
// stored checkpoint are skipped. The checkpoint only covers lines whose
// events the Flusher confirmed. Lines that fail to parse are reported to
// onBadLine; lines the listener rejects are logged. Both count as failed.
func (r *Replayer) Run(ctx context.Context, in io.Reader) (ReplayStats, error) {
	var stats ReplayStats

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return stats, err
	}
	startAfter := int64(0)
	if ok {
		startAfter = cp.Line
		r.logger.Info("resume replay", zap.Int64("after_line", cp.Line), zap.Uint64("slot", cp.Slot))
	}

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var (
		lineNo    int64
		lastLine  = startAfter
		lastSlot  = cp.Slot
		sinceSave int64
		runErr    error
	)
	for scanner.Scan() {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		lineNo++
		if lineNo <= startAfter {
			stats.Skipped++
			continue
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Total++

		rec, err := ParseRecord(line)
		if err != nil {
			stats.Failed++
			r.onBadLine(BadLine{Line: lineNo, Raw: string(line), Error: err.Error()})
			continue
		}
		if err := rec.Dispatch(r.listener); err != nil {
			stats.Failed++
			r.logger.Warn("dispatch failed", zap.Int64("line", lineNo), zap.String("kind", rec.Kind), zap.Error(err))
		} else {
			stats.Dispatched++
		}

		lastLine, lastSlot = lineNo, rec.Slot
		sinceSave++
		if sinceSave >= r.checkpointEvery {
			if err := r.commit(lastLine, lastSlot); err != nil {
				return stats, err
			}
			sinceSave = 0
		}
	}
	if runErr == nil {
		if err := scanner.Err(); err != nil {
			runErr = fmt.Errorf("scan input: %w", err)
		}
	}

	if lastLine > startAfter {
		if err := r.commit(lastLine, lastSlot); err != nil {
			return stats, err
		}
	}
	return stats, runErr
}
