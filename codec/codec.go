// Package codec converts values to and from the bytes stored in the cache.
package codec

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ErrTooLarge is returned by Limit when a payload exceeds its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Msgpack serializes with vmihailenco/msgpack. The zero value is ready to use.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// JSON serializes with encoding/json.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// CBOR serializes with fxamacker/cbor using core deterministic encoding, so
// equal values always produce equal bytes. Construct with NewCBOR.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR returns a deterministic CBOR codec. Times are encoded as RFC3339Nano.
func NewCBOR[V any]() (CBOR[V], error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// Limit wraps another codec and refuses payloads larger than MaxDecode bytes
// in both directions, so nothing it encodes is rejected when read back.
// MaxDecode <= 0 disables the check.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		return nil, errors.Mark(errors.Newf("encoded %d > %d bytes", len(b), c.MaxDecode), ErrTooLarge)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, errors.Mark(errors.Newf("%d > %d bytes", len(b), c.MaxDecode), ErrTooLarge)
	}
	return c.Inner.Decode(b)
}

// New returns the codec registered under name ("msgpack", "cbor" or "json"),
// bounded by maxDecode bytes.
func New[V any](name string, maxDecode int) (Codec[V], error) {
	var inner Codec[V]
	switch name {
	case "", "msgpack":
		inner = Msgpack[V]{}
	case "json":
		inner = JSON[V]{}
	case "cbor":
		c, err := NewCBOR[V]()
		if err != nil {
			return nil, errors.Wrap(err, "cbor codec")
		}
		inner = c
	default:
		return nil, errors.Newf("unknown codec %q", name)
	}
	return Limit[V]{Inner: inner, MaxDecode: maxDecode}, nil
}
