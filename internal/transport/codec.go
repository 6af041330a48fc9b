package transport

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/telltale/internal/prop"
)

// Codec encodes batches of one record type into envelopes and back. The
// inline/out-of-band decision is the codec's alone; callers only ever see
// envelopes. Decode failures carry INVALID_ARG so the dispatcher can reject
// malformed input without inspecting the cause.
type Codec[T any] struct {
	store BufferStore
	limit int
}

// NewCodec builds a codec over a buffer store. A non-positive inlineLimit
// selects DefaultInlineLimit.
func NewCodec[T any](store BufferStore, inlineLimit int) *Codec[T] {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	return &Codec[T]{store: store, limit: inlineLimit}
}

// Encode serializes items into an envelope, moving the payload out-of-band
// when its serialized size exceeds the inline limit.
func (c *Codec[T]) Encode(items []T) (*Envelope, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	env := &Envelope{Version: Version, Count: len(items)}
	if len(data) <= c.limit {
		env.Inline = data
		return env, nil
	}

	h, err := c.store.Allocate(data)
	if err != nil {
		return nil, fmt.Errorf("allocate out-of-band buffer: %w", err)
	}
	env.Handle = &h
	return env, nil
}

// Decode recovers the items of an envelope from either representation. An
// envelope with neither representation, an unknown version, an unresolvable
// handle or an unparseable payload is INVALID_ARG.
func (c *Codec[T]) Decode(env *Envelope) ([]T, error) {
	if env == nil {
		return nil, prop.Wrap(prop.StatusInvalidArg, ErrEmptyEnvelope)
	}
	if env.Version != Version {
		return nil, prop.Errorf(prop.StatusInvalidArg, "unsupported envelope version %d", env.Version)
	}

	var data []byte
	switch {
	case env.Handle != nil:
		d, err := c.store.Read(*env.Handle)
		if err != nil {
			return nil, prop.Wrap(prop.StatusInvalidArg, fmt.Errorf("resolve buffer handle: %w", err))
		}
		data = d
	case len(env.Inline) > 0:
		data = env.Inline
	default:
		return nil, prop.Wrap(prop.StatusInvalidArg, ErrEmptyEnvelope)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, prop.Wrap(prop.StatusInvalidArg, fmt.Errorf("decode batch payload: %w", err))
	}
	return items, nil
}

// Release frees the out-of-band buffer behind an envelope, if it has one.
// Call it once the decoded content is no longer needed.
func (c *Codec[T]) Release(env *Envelope) error {
	if !env.OutOfBand() {
		return nil
	}
	return c.store.Release(*env.Handle)
}
