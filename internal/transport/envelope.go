// Package transport moves request and result batches across the service
// boundary. Small batches travel inline inside the envelope; batches whose
// serialized form exceeds the inline limit are written to a shared buffer
// and referenced by handle, so callers never pay for oversized payloads in
// the call itself.
package transport

import (
	"encoding/json"
	"errors"
)

// Version is the envelope format version understood by this codec.
const Version = 1

// DefaultInlineLimit is the serialized size above which a batch moves
// out-of-band.
const DefaultInlineLimit = 4096

// ErrEmptyEnvelope marks an envelope carrying neither an inline payload nor
// a buffer handle.
var ErrEmptyEnvelope = errors.New("envelope has neither inline payload nor buffer handle")

// BufferHandle references an out-of-band payload buffer. Sum is the blake3
// hex digest of the payload, verified on read.
type BufferHandle struct {
	ID   string `json:"id"`
	Size int64  `json:"size"`
	Sum  string `json:"sum"`
}

// Envelope is one encoded batch. Exactly one of Inline and Handle is
// populated; when both are present the handle wins and the inline payload is
// ignored. Count echoes the record count so observers can log batch sizes
// without decoding.
type Envelope struct {
	Version int             `json:"version"`
	Count   int             `json:"count"`
	Inline  json.RawMessage `json:"inline,omitempty"`
	Handle  *BufferHandle   `json:"handle,omitempty"`
}

// OutOfBand reports whether the payload lives in a shared buffer.
func (e *Envelope) OutOfBand() bool {
	return e != nil && e.Handle != nil
}
