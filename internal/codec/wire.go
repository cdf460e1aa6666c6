package codec

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"heimdall/internal/model"
)

// Field numbers of the account message.
const (
	accountSlot         protowire.Number = 1
	accountPubkey       protowire.Number = 2
	accountLamports     protowire.Number = 3
	accountOwner        protowire.Number = 4
	accountExecutable   protowire.Number = 5
	accountRentEpoch    protowire.Number = 6
	accountData         protowire.Number = 7
	accountWriteVersion protowire.Number = 8
	accountTxnSignature protowire.Number = 9
)

// Field numbers of the slot status message.
const (
	slotSlot   protowire.Number = 1
	slotParent protowire.Number = 2
	slotStatus protowire.Number = 3
)

// Field numbers of the transaction message.
const (
	txSlot            protowire.Number = 1
	txSignature       protowire.Number = 2
	txIndex           protowire.Number = 3
	txIsVote          protowire.Number = 4
	txIsStatusErr     protowire.Number = 5
	txFee             protowire.Number = 6
	txNumInstructions protowire.Number = 7
	txNumAccounts     protowire.Number = 8
	txComputeUnits    protowire.Number = 9
	txAccountKeys     protowire.Number = 10
)

var errWireType = errors.New("unexpected wire type")

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendPresentBytes writes v whenever it is non-nil, empty included.
func appendPresentBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func marshalAccount(ev model.AccountChangeEvent) []byte {
	var b []byte
	b = appendUint(b, accountSlot, ev.Slot)
	b = appendBytes(b, accountPubkey, ev.Pubkey)
	b = appendUint(b, accountLamports, ev.Lamports)
	b = appendBytes(b, accountOwner, ev.Owner)
	b = appendBool(b, accountExecutable, ev.Executable)
	b = appendUint(b, accountRentEpoch, ev.RentEpoch)
	b = appendBytes(b, accountData, ev.Data)
	b = appendUint(b, accountWriteVersion, ev.WriteVersion)
	b = appendPresentBytes(b, accountTxnSignature, ev.TxnSignature)
	return b
}

func marshalSlot(ev model.SlotStatusEvent) []byte {
	var b []byte
	b = appendUint(b, slotSlot, ev.Slot)
	b = appendUint(b, slotParent, ev.Parent)
	// enums are int32 on the wire; negative values sign-extend to ten bytes
	b = appendUint(b, slotStatus, uint64(int64(ev.Status)))
	return b
}

func marshalTransaction(ev model.TransactionEvent) []byte {
	var b []byte
	b = appendUint(b, txSlot, ev.Slot)
	b = appendBytes(b, txSignature, ev.Signature)
	b = appendUint(b, txIndex, ev.Index)
	b = appendBool(b, txIsVote, ev.IsVote)
	b = appendBool(b, txIsStatusErr, !ev.Success)
	b = appendUint(b, txFee, ev.Fee)
	b = appendUint(b, txNumInstructions, uint64(ev.NumInstructions))
	b = appendUint(b, txNumAccounts, uint64(ev.NumAccounts))
	if ev.ComputeUnitsConsumed != nil {
		b = protowire.AppendTag(b, txComputeUnits, protowire.VarintType)
		b = protowire.AppendVarint(b, *ev.ComputeUnitsConsumed)
	}
	for _, key := range ev.AccountKeys {
		b = protowire.AppendTag(b, txAccountKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, key)
	}
	return b
}

// fieldFunc consumes the value of one field and reports how many bytes it
// used. A negative count means the field is unknown and should be skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

func consumeUint32(typ protowire.Type, b []byte, dst *uint32) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = uint32(v)
	return n, nil
}

// consumeBytes copies the value so decoded events never alias the payload.
// An empty value decodes to a non-nil empty slice.
func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = bytes.Clone(v)
	if *dst == nil {
		*dst = []byte{}
	}
	return n, nil
}

func unmarshalAccount(b []byte) (model.AccountChangeEvent, error) {
	var ev model.AccountChangeEvent
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case accountSlot:
			return consumeVarint(typ, b, &ev.Slot)
		case accountPubkey:
			return consumeBytes(typ, b, &ev.Pubkey)
		case accountLamports:
			return consumeVarint(typ, b, &ev.Lamports)
		case accountOwner:
			return consumeBytes(typ, b, &ev.Owner)
		case accountExecutable:
			return consumeBool(typ, b, &ev.Executable)
		case accountRentEpoch:
			return consumeVarint(typ, b, &ev.RentEpoch)
		case accountData:
			return consumeBytes(typ, b, &ev.Data)
		case accountWriteVersion:
			return consumeVarint(typ, b, &ev.WriteVersion)
		case accountTxnSignature:
			return consumeBytes(typ, b, &ev.TxnSignature)
		}
		return -1, nil
	})
	return ev, err
}

func unmarshalSlot(b []byte) (model.SlotStatusEvent, error) {
	var ev model.SlotStatusEvent
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case slotSlot:
			return consumeVarint(typ, b, &ev.Slot)
		case slotParent:
			return consumeVarint(typ, b, &ev.Parent)
		case slotStatus:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			ev.Status = model.SlotStatus(int32(v))
			return n, err
		}
		return -1, nil
	})
	return ev, err
}

func unmarshalTransaction(b []byte) (model.TransactionEvent, error) {
	ev := model.TransactionEvent{Success: true}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case txSlot:
			return consumeVarint(typ, b, &ev.Slot)
		case txSignature:
			return consumeBytes(typ, b, &ev.Signature)
		case txIndex:
			return consumeVarint(typ, b, &ev.Index)
		case txIsVote:
			return consumeBool(typ, b, &ev.IsVote)
		case txIsStatusErr:
			var failed bool
			n, err := consumeBool(typ, b, &failed)
			ev.Success = !failed
			return n, err
		case txFee:
			return consumeVarint(typ, b, &ev.Fee)
		case txNumInstructions:
			return consumeUint32(typ, b, &ev.NumInstructions)
		case txNumAccounts:
			return consumeUint32(typ, b, &ev.NumAccounts)
		case txComputeUnits:
			var units uint64
			n, err := consumeVarint(typ, b, &units)
			ev.ComputeUnitsConsumed = &units
			return n, err
		case txAccountKeys:
			var key []byte
			n, err := consumeBytes(typ, b, &key)
			ev.AccountKeys = append(ev.AccountKeys, key)
			return n, err
		}
		return -1, nil
	})
	return ev, err
}
