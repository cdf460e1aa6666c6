package model

import (
	"time"

	"github.com/mr-tron/base58"
)

// AccountRow is the sink representation of an AccountChangeEvent.
type AccountRow struct {
	Slot         uint64    `json:"slot" ch:"slot"`
	Pubkey       string    `json:"pubkey" ch:"pubkey"`
	Lamports     uint64    `json:"lamports" ch:"lamports"`
	Owner        string    `json:"owner" ch:"owner"`
	Executable   bool      `json:"executable" ch:"executable"`
	RentEpoch    uint64    `json:"rent_epoch" ch:"rent_epoch"`
	DataLen      uint64    `json:"data_len" ch:"data_len"`
	WriteVersion uint64    `json:"write_version" ch:"write_version"`
	TxnSignature *string   `json:"txn_signature,omitempty" ch:"txn_signature"`
	CreatedAt    time.Time `json:"created_at" ch:"created_at"`
}

// SlotRow is the sink representation of a SlotStatusEvent.
type SlotRow struct {
	Slot      uint64    `json:"slot" ch:"slot"`
	Parent    uint64    `json:"parent" ch:"parent"`
	Status    string    `json:"status" ch:"status"`
	CreatedAt time.Time `json:"created_at" ch:"created_at"`
}

// TransactionRow is the sink representation of a TransactionEvent.
type TransactionRow struct {
	Signature            string    `json:"signature" ch:"signature"`
	Slot                 uint64    `json:"slot" ch:"slot"`
	Index                uint64    `json:"index" ch:"index"`
	IsVote               bool      `json:"is_vote" ch:"is_vote"`
	IsSuccessful         bool      `json:"is_successful" ch:"is_successful"`
	Fee                  uint64    `json:"fee" ch:"fee"`
	ComputeUnitsConsumed *uint64   `json:"compute_units_consumed,omitempty" ch:"compute_units_consumed"`
	NumInstructions      uint32    `json:"num_instructions" ch:"num_instructions"`
	NumAccounts          uint32    `json:"num_accounts" ch:"num_accounts"`
	CreatedAt            time.Time `json:"created_at" ch:"created_at"`
}

// NewAccountRow projects an account event into a row stamped with createdAt.
func NewAccountRow(ev AccountChangeEvent, createdAt time.Time) AccountRow {
	row := AccountRow{
		Slot:         ev.Slot,
		Pubkey:       base58.Encode(ev.Pubkey),
		Lamports:     ev.Lamports,
		Owner:        base58.Encode(ev.Owner),
		Executable:   ev.Executable,
		RentEpoch:    ev.RentEpoch,
		DataLen:      uint64(len(ev.Data)),
		WriteVersion: ev.WriteVersion,
		CreatedAt:    createdAt,
	}
	if ev.TxnSignature != nil {
		sig := base58.Encode(ev.TxnSignature)
		row.TxnSignature = &sig
	}
	return row
}

// NewSlotRow projects a slot status event into a row stamped with createdAt.
func NewSlotRow(ev SlotStatusEvent, createdAt time.Time) SlotRow {
	return SlotRow{
		Slot:      ev.Slot,
		Parent:    ev.Parent,
		Status:    ev.Status.String(),
		CreatedAt: createdAt,
	}
}

// NewTransactionRow projects a transaction event into a row stamped with createdAt.
func NewTransactionRow(ev TransactionEvent, createdAt time.Time) TransactionRow {
	row := TransactionRow{
		Signature:       base58.Encode(ev.Signature),
		Slot:            ev.Slot,
		Index:           ev.Index,
		IsVote:          ev.IsVote,
		IsSuccessful:    ev.Success,
		Fee:             ev.Fee,
		NumInstructions: ev.NumInstructions,
		NumAccounts:     ev.NumAccounts,
		CreatedAt:       createdAt,
	}
	if ev.ComputeUnitsConsumed != nil {
		units := *ev.ComputeUnitsConsumed
		row.ComputeUnitsConsumed = &units
	}
	return row
}
