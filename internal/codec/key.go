package codec

import (
	"encoding/binary"

	"heimdall/internal/model"
)

// Key prefixes used in wrapped mode so consumers can route on the key alone.
const (
	PrefixAccount     byte = 0x41 // 'A'
	PrefixSlot        byte = 0x53 // 'S'
	PrefixTransaction byte = 0x54 // 'T'
)

// Prefix returns the wrapped-mode key prefix for k.
func (k Kind) Prefix() byte {
	switch k {
	case KindAccount:
		return PrefixAccount
	case KindSlot:
		return PrefixSlot
	case KindTransaction:
		return PrefixTransaction
	}
	return 0
}

// AccountKey is the pubkey, prefixed when wrap is set.
func AccountKey(ev model.AccountChangeEvent, wrap bool) []byte {
	return withPrefix(KindAccount, ev.Pubkey, wrap)
}

// SlotKey is the little-endian slot number, prefixed when wrap is set.
func SlotKey(ev model.SlotStatusEvent, wrap bool) []byte {
	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], ev.Slot)
	return withPrefix(KindSlot, slot[:], wrap)
}

// TransactionKey is the signature, prefixed when wrap is set.
func TransactionKey(ev model.TransactionEvent, wrap bool) []byte {
	return withPrefix(KindTransaction, ev.Signature, wrap)
}

func withPrefix(kind Kind, natural []byte, wrap bool) []byte {
	if !wrap {
		out := make([]byte, len(natural))
		copy(out, natural)
		return out
	}
	out := make([]byte, 0, len(natural)+1)
	out = append(out, kind.Prefix())
	return append(out, natural...)
}
