package model

// AccountChangeEvent is a single account write reported by the source.
type AccountChangeEvent struct {
	Slot         uint64
	Pubkey       []byte
	Lamports     uint64
	Owner        []byte
	Executable   bool
	RentEpoch    uint64
	Data         []byte
	WriteVersion uint64
	// TxnSignature is nil when the write did not originate from a transaction.
	TxnSignature []byte
}

// SlotStatusEvent is a slot status transition.
type SlotStatusEvent struct {
	Slot   uint64
	Parent uint64
	Status SlotStatus
}

// TransactionEvent summarises one executed transaction.
type TransactionEvent struct {
	Signature            []byte
	Slot                 uint64
	Index                uint64
	IsVote               bool
	Success              bool
	Fee                  uint64
	NumInstructions      uint32
	NumAccounts          uint32
	ComputeUnitsConsumed *uint64
	// AccountKeys lists the keys the transaction touched. Only the publish-side
	// filter looks at them; they are not stored in the sink.
	AccountKeys [][]byte
}
