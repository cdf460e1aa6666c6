package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"heimdall/internal/model"
)

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func sampleAccount() model.AccountChangeEvent {
	return model.AccountChangeEvent{
		Slot:         250_000_123,
		Pubkey:       filled(32, 0x11),
		Lamports:     2_039_280,
		Owner:        filled(32, 0x22),
		Executable:   true,
		RentEpoch:    18446744073709551615,
		Data:         []byte{0, 1, 2, 3, 4, 5},
		WriteVersion: 987654321,
		TxnSignature: filled(64, 0x33),
	}
}

func sampleSlot() model.SlotStatusEvent {
	return model.SlotStatusEvent{Slot: 250_000_124, Parent: 250_000_123, Status: model.SlotConfirmed}
}

func sampleTransaction() model.TransactionEvent {
	units := uint64(200_000)
	return model.TransactionEvent{
		Signature:            filled(64, 0x44),
		Slot:                 250_000_125,
		Index:                17,
		IsVote:               false,
		Success:              false,
		Fee:                  5000,
		NumInstructions:      3,
		NumAccounts:          9,
		ComputeUnitsConsumed: &units,
		AccountKeys:          [][]byte{filled(32, 0x55), filled(32, 0x66)},
	}
}

func TestRoundTripBothModes(t *testing.T) {
	for _, wrap := range []bool{false, true} {
		acc := sampleAccount()
		_, value, err := EncodeAccount(acc, wrap)
		if err != nil {
			t.Fatalf("encode account: %v", err)
		}
		env, err := Decode("solana.accounts", value)
		if err != nil {
			t.Fatalf("wrap=%v decode account: %v", wrap, err)
		}
		if env.Kind != KindAccount || !reflect.DeepEqual(*env.Account, acc) {
			t.Fatalf("wrap=%v account mismatch: %+v", wrap, env)
		}

		slot := sampleSlot()
		_, value, err = EncodeSlot(slot, wrap)
		if err != nil {
			t.Fatalf("encode slot: %v", err)
		}
		env, err = Decode("solana.slots", value)
		if err != nil {
			t.Fatalf("wrap=%v decode slot: %v", wrap, err)
		}
		if env.Kind != KindSlot || !reflect.DeepEqual(*env.Slot, slot) {
			t.Fatalf("wrap=%v slot mismatch: %+v", wrap, env)
		}

		tx := sampleTransaction()
		_, value, err = EncodeTransaction(tx, wrap)
		if err != nil {
			t.Fatalf("encode transaction: %v", err)
		}
		env, err = Decode("solana.transactions", value)
		if err != nil {
			t.Fatalf("wrap=%v decode transaction: %v", wrap, err)
		}
		if env.Kind != KindTransaction || !reflect.DeepEqual(*env.Transaction, tx) {
			t.Fatalf("wrap=%v transaction mismatch: %+v", wrap, env.Transaction)
		}
	}
}

func TestWrappedDecodeIgnoresTopic(t *testing.T) {
	_, value, err := EncodeSlot(sampleSlot(), true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := Decode("firehose", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindSlot {
		t.Fatalf("kind: %s", env.Kind)
	}
}

func TestOptionalFieldsPresence(t *testing.T) {
	acc := sampleAccount()
	acc.TxnSignature = nil
	_, value, _ := EncodeAccount(acc, false)
	env, err := Decode("accounts", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Account.TxnSignature != nil {
		t.Fatalf("absent signature decoded as %v", env.Account.TxnSignature)
	}

	acc.TxnSignature = []byte{}
	_, value, _ = EncodeAccount(acc, false)
	env, err = Decode("accounts", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Account.TxnSignature == nil {
		t.Fatalf("empty signature lost its presence")
	}

	tx := sampleTransaction()
	tx.ComputeUnitsConsumed = nil
	tx.Success = true
	_, value, _ = EncodeTransaction(tx, true)
	env, err = Decode("transactions", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Transaction.ComputeUnitsConsumed != nil || !env.Transaction.Success {
		t.Fatalf("transaction mismatch: %+v", env.Transaction)
	}

	zero := uint64(0)
	tx.ComputeUnitsConsumed = &zero
	_, value, _ = EncodeTransaction(tx, false)
	env, _ = Decode("transactions", value)
	if env.Transaction.ComputeUnitsConsumed == nil || *env.Transaction.ComputeUnitsConsumed != 0 {
		t.Fatalf("zero compute units lost its presence")
	}
}

func TestUnknownSlotStatusSurvives(t *testing.T) {
	slot := model.SlotStatusEvent{Slot: 1, Status: model.SlotStatus(-3)}
	_, value, _ := EncodeSlot(slot, false)
	env, err := Decode("slots", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Slot.Status != -3 || env.Slot.Status.String() != model.SlotUnknown {
		t.Fatalf("status: %d %s", env.Slot.Status, env.Slot.Status)
	}
}

func TestKeysAreDeterministic(t *testing.T) {
	acc := sampleAccount()
	slot := sampleSlot()
	tx := sampleTransaction()

	for _, wrap := range []bool{false, true} {
		k1, _, _ := EncodeAccount(acc, wrap)
		k2, _, _ := EncodeAccount(acc, wrap)
		if !bytes.Equal(k1, k2) {
			t.Fatalf("account key not deterministic")
		}
		s1, _, _ := EncodeSlot(slot, wrap)
		s2, _, _ := EncodeSlot(slot, wrap)
		if !bytes.Equal(s1, s2) {
			t.Fatalf("slot key not deterministic")
		}
		t1, _, _ := EncodeTransaction(tx, wrap)
		t2, _, _ := EncodeTransaction(tx, wrap)
		if !bytes.Equal(t1, t2) {
			t.Fatalf("transaction key not deterministic")
		}
	}

	slotLE := make([]byte, 8)
	binary.LittleEndian.PutUint64(slotLE, slot.Slot)

	cases := []struct {
		name   string
		key    []byte
		prefix byte
		body   []byte
	}{
		{"account", AccountKey(acc, true), 0x41, acc.Pubkey},
		{"slot", SlotKey(slot, true), 0x53, slotLE},
		{"transaction", TransactionKey(tx, true), 0x54, tx.Signature},
	}
	for _, tc := range cases {
		if tc.key[0] != tc.prefix {
			t.Fatalf("%s: prefix %#x want %#x", tc.name, tc.key[0], tc.prefix)
		}
		if !bytes.Equal(tc.key[1:], tc.body) {
			t.Fatalf("%s: key body mismatch", tc.name)
		}
	}

	if !bytes.Equal(AccountKey(acc, false), acc.Pubkey) {
		t.Fatalf("unwrapped account key must be the pubkey")
	}
	if !bytes.Equal(SlotKey(slot, false), slotLE) {
		t.Fatalf("unwrapped slot key must be little-endian slot")
	}
	if !bytes.Equal(TransactionKey(tx, false), tx.Signature) {
		t.Fatalf("unwrapped transaction key must be the signature")
	}
}

func TestKeyDoesNotAliasEvent(t *testing.T) {
	acc := sampleAccount()
	key := AccountKey(acc, false)
	key[0] = 0
	if acc.Pubkey[0] != 0x11 {
		t.Fatalf("key aliases the pubkey")
	}
}

func TestDecodeFallbackFollowsTopicOrder(t *testing.T) {
	_, value, _ := EncodeSlot(sampleSlot(), false)

	// "account" is checked before "slot", and a raw slot message is not a
	// valid account message because field 2 is a varint.
	if _, err := Decode("account-slots", value); err == nil {
		t.Fatalf("expected account decode to be attempted and fail")
	}

	if _, err := Decode("events", value); err == nil {
		t.Fatalf("expected error for topic naming no kind")
	}
}

func TestDecodeGarbageOnSlotTopic(t *testing.T) {
	payloads := [][]byte{
		[]byte("not a protobuf"),
		{0xff, 0xff, 0xff},
		{0x0a, 0x10, 0x01},
	}
	for _, payload := range payloads {
		_, err := Decode("slot", payload)
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("payload %x: expected DecodeError, got %v", payload, err)
		}
		if decodeErr.Topic != "slot" {
			t.Fatalf("topic: %q", decodeErr.Topic)
		}
	}
}

func TestUnmarshalEnvelopeIsStrict(t *testing.T) {
	_, inner, _ := EncodeSlot(sampleSlot(), false)

	var twice []byte
	for i := 0; i < 2; i++ {
		twice = protowire.AppendTag(twice, wrapperSlot, protowire.BytesType)
		twice = protowire.AppendBytes(twice, inner)
	}
	if _, err := UnmarshalEnvelope(twice); err == nil {
		t.Fatalf("expected error for two variants")
	}

	var unknown []byte
	unknown = protowire.AppendTag(unknown, 7, protowire.BytesType)
	unknown = protowire.AppendBytes(unknown, inner)
	if _, err := UnmarshalEnvelope(unknown); err == nil {
		t.Fatalf("expected error for unknown field")
	}

	env, err := UnmarshalEnvelope(nil)
	if err != nil || env.Kind != KindUnknown {
		t.Fatalf("empty payload: %+v %v", env, err)
	}

	if _, err := MarshalEnvelope(Envelope{Kind: KindSlot}); err == nil {
		t.Fatalf("expected error for envelope without payload")
	}
}

func TestRawDecodeSkipsUnknownFields(t *testing.T) {
	_, value, _ := EncodeSlot(sampleSlot(), false)
	value = protowire.AppendTag(value, 15, protowire.BytesType)
	value = protowire.AppendBytes(value, []byte("future"))

	env, err := Decode("slots", value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(*env.Slot, sampleSlot()) {
		t.Fatalf("slot mismatch: %+v", env.Slot)
	}
}
