// Package codec maps subscriptions, updates and forwarded writes to a flat,
// versioned CBOR format exchanged between nodes over the queue.
//
// Every payload is an envelope {1: version, 2: kind, 3: body}. Decoding is
// strict: unknown versions, kinds or fields, missing required fields and
// key-values whose populated field disagrees with their type tag are all
// rejected with ErrDecode.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Version is the envelope version written by this package.
const Version uint8 = 1

// ErrDecode wraps every decoding failure.
var ErrDecode = errors.New("codec: malformed message")

// ErrEncode wraps every encoding failure.
var ErrEncode = errors.New("codec: cannot encode message")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type envelope struct {
	Version uint8           `cbor:"1,keyasint"`
	Kind    Kind            `cbor:"2,keyasint"`
	Body    cbor.RawMessage `cbor:"3,keyasint"`
}

// Encode serializes msg into an envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrEncode)
	}
	body, err := toWire(msg)
	if err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, msg.Kind(), err)
	}
	data, err := encMode.Marshal(envelope{Version: Version, Kind: msg.Kind(), Body: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, msg.Kind(), err)
	}
	return data, nil
}

// Decode parses an envelope and its body. The returned message is fully
// validated; nothing is returned on error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecode, env.Version)
	}
	if len(env.Body) == 0 {
		return nil, missing("body")
	}
	return fromWire(env.Kind, env.Body)
}

func unmarshalBody(body []byte, v any) error {
	if err := decMode.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
