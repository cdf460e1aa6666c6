package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"heimdall/internal/model"
)

// Kind discriminates the event carried by an Envelope.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAccount
	KindSlot
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindSlot:
		return "slot"
	case KindTransaction:
		return "transaction"
	}
	return "unknown"
}

// Envelope holds exactly one event. Kind says which pointer is set.
type Envelope struct {
	Kind        Kind
	Account     *model.AccountChangeEvent
	Slot        *model.SlotStatusEvent
	Transaction *model.TransactionEvent
}

// AccountEnvelope wraps an account event.
func AccountEnvelope(ev model.AccountChangeEvent) Envelope {
	return Envelope{Kind: KindAccount, Account: &ev}
}

// SlotEnvelope wraps a slot status event.
func SlotEnvelope(ev model.SlotStatusEvent) Envelope {
	return Envelope{Kind: KindSlot, Slot: &ev}
}

// TransactionEnvelope wraps a transaction event.
func TransactionEnvelope(ev model.TransactionEvent) Envelope {
	return Envelope{Kind: KindTransaction, Transaction: &ev}
}

// Field numbers of the wrapper oneof. They double as Kind values.
const (
	wrapperAccount     protowire.Number = 1
	wrapperSlot        protowire.Number = 2
	wrapperTransaction protowire.Number = 3
)

var (
	errNoVariant    = errors.New("envelope carries no event")
	errManyVariants = errors.New("envelope carries more than one event")
)

// MarshalEnvelope encodes env as the wrapper message.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	var (
		num   protowire.Number
		inner []byte
	)
	switch {
	case env.Kind == KindAccount && env.Account != nil:
		num, inner = wrapperAccount, marshalAccount(*env.Account)
	case env.Kind == KindSlot && env.Slot != nil:
		num, inner = wrapperSlot, marshalSlot(*env.Slot)
	case env.Kind == KindTransaction && env.Transaction != nil:
		num, inner = wrapperTransaction, marshalTransaction(*env.Transaction)
	default:
		return nil, fmt.Errorf("marshal envelope: %w", errNoVariant)
	}

	b := make([]byte, 0, len(inner)+protowire.SizeTag(num)+protowire.SizeVarint(uint64(len(inner))))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

// UnmarshalEnvelope decodes a wrapper message. It is strict: any field other
// than the three length-delimited variants is an error, so raw event
// messages, whose first field is a varint, are not mistaken for envelopes.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var (
		env   Envelope
		inner []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, protowire.ParseError(n)
		}
		b = b[n:]
		if num < wrapperAccount || num > wrapperTransaction {
			return Envelope{}, fmt.Errorf("field %d: not an envelope field", num)
		}
		if typ != protowire.BytesType {
			return Envelope{}, fmt.Errorf("field %d: %w", num, errWireType)
		}
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return Envelope{}, protowire.ParseError(m)
		}
		b = b[m:]

		if env.Kind != KindUnknown {
			return Envelope{}, errManyVariants
		}
		env.Kind = Kind(num)
		inner = v
	}

	switch env.Kind {
	case KindAccount:
		ev, err := unmarshalAccount(inner)
		if err != nil {
			return Envelope{}, fmt.Errorf("account variant: %w", err)
		}
		env.Account = &ev
	case KindSlot:
		ev, err := unmarshalSlot(inner)
		if err != nil {
			return Envelope{}, fmt.Errorf("slot variant: %w", err)
		}
		env.Slot = &ev
	case KindTransaction:
		ev, err := unmarshalTransaction(inner)
		if err != nil {
			return Envelope{}, fmt.Errorf("transaction variant: %w", err)
		}
		env.Transaction = &ev
	}
	return env, nil
}
