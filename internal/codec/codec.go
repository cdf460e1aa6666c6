// Package codec encodes events for the log in either wrapped mode (one
// envelope type for every kind) or unwrapped mode (one message type per
// kind), derives message keys, and decodes payloads produced in either mode.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"heimdall/internal/model"
)

// DecodeError reports a payload that matched neither the envelope nor the
// raw message selected by its topic.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message on %q: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errNoRawType = errors.New("topic does not name an event kind")

// EncodeAccount returns the key and payload for ev.
func EncodeAccount(ev model.AccountChangeEvent, wrap bool) (key, value []byte, err error) {
	key = AccountKey(ev, wrap)
	if !wrap {
		return key, marshalAccount(ev), nil
	}
	value, err = MarshalEnvelope(AccountEnvelope(ev))
	return key, value, err
}

// EncodeSlot returns the key and payload for ev.
func EncodeSlot(ev model.SlotStatusEvent, wrap bool) (key, value []byte, err error) {
	key = SlotKey(ev, wrap)
	if !wrap {
		return key, marshalSlot(ev), nil
	}
	value, err = MarshalEnvelope(SlotEnvelope(ev))
	return key, value, err
}

// EncodeTransaction returns the key and payload for ev.
func EncodeTransaction(ev model.TransactionEvent, wrap bool) (key, value []byte, err error) {
	key = TransactionKey(ev, wrap)
	if !wrap {
		return key, marshalTransaction(ev), nil
	}
	value, err = MarshalEnvelope(TransactionEnvelope(ev))
	return key, value, err
}

// Decode accepts payloads from either mode. The envelope is tried first;
// when it fails or is empty the payload is decoded as the raw type named by
// the first of "account", "slot", "transaction" found in topic.
func Decode(topic string, payload []byte) (Envelope, error) {
	env, envErr := UnmarshalEnvelope(payload)
	if envErr == nil && env.Kind != KindUnknown {
		return env, nil
	}

	var err error
	switch {
	case strings.Contains(topic, "account"):
		var ev model.AccountChangeEvent
		if ev, err = unmarshalAccount(payload); err == nil {
			return AccountEnvelope(ev), nil
		}
	case strings.Contains(topic, "slot"):
		var ev model.SlotStatusEvent
		if ev, err = unmarshalSlot(payload); err == nil {
			return SlotEnvelope(ev), nil
		}
	case strings.Contains(topic, "transaction"):
		var ev model.TransactionEvent
		if ev, err = unmarshalTransaction(payload); err == nil {
			return TransactionEnvelope(ev), nil
		}
	default:
		err = errNoRawType
	}

	if envErr != nil {
		err = fmt.Errorf("%w (envelope: %v)", err, envErr)
	}
	return Envelope{}, &DecodeError{Topic: topic, Err: err}
}
