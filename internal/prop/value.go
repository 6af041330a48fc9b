package prop

import "fmt"

// Kind identifies which arm of the payload union is populated.
type Kind int32

const (
	KindEmpty  Kind = iota // no payload (get requests, timeout results)
	KindInt32s             // int32_values
	KindInt64s             // int64_values
	KindFloats             // float_values
	KindBytes              // byte_values
	KindString             // string_value
)

// String returns the wire-level name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "EMPTY"
	case KindInt32s:
		return "INT32S"
	case KindInt64s:
		return "INT64S"
	case KindFloats:
		return "FLOATS"
	case KindBytes:
		return "BYTES"
	case KindString:
		return "STRING"
	default:
		return fmt.Sprintf("KIND(%d)", int32(k))
	}
}

// Payload is the tagged union carried by a Value. Exactly one arm is
// meaningful, selected by Kind; the other arms stay at their zero value.
type Payload struct {
	Kind        Kind      `json:"kind"`
	Int32Values []int32   `json:"int32_values,omitempty"`
	Int64Values []int64   `json:"int64_values,omitempty"`
	FloatValues []float32 `json:"float_values,omitempty"`
	ByteValues  []byte    `json:"byte_values,omitempty"`
	StringValue string    `json:"string_value,omitempty"`
}

// EmptyPayload returns the payload used when a value carries no data.
func EmptyPayload() Payload {
	return Payload{Kind: KindEmpty}
}

// Int32s builds an int32 payload.
func Int32s(vs ...int32) Payload {
	return Payload{Kind: KindInt32s, Int32Values: vs}
}

// Int64s builds an int64 payload.
func Int64s(vs ...int64) Payload {
	return Payload{Kind: KindInt64s, Int64Values: vs}
}

// Floats builds a float32 payload.
func Floats(vs ...float32) Payload {
	return Payload{Kind: KindFloats, FloatValues: vs}
}

// Bytes builds a byte payload.
func Bytes(bs []byte) Payload {
	return Payload{Kind: KindBytes, ByteValues: bs}
}

// Str builds a string payload.
func Str(s string) Payload {
	return Payload{Kind: KindString, StringValue: s}
}

// Len returns the element count of the populated arm. Strings count as one
// element when non-empty.
func (p Payload) Len() int {
	switch p.Kind {
	case KindInt32s:
		return len(p.Int32Values)
	case KindInt64s:
		return len(p.Int64Values)
	case KindFloats:
		return len(p.FloatValues)
	case KindBytes:
		return len(p.ByteValues)
	case KindString:
		if p.StringValue == "" {
			return 0
		}
		return 1
	default:
		return 0
	}
}

// Equal compares two payloads by kind and element values. A nil slice and an
// empty slice of the same kind compare equal.
func (p Payload) Equal(o Payload) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case KindInt32s:
		return slicesEqual(p.Int32Values, o.Int32Values)
	case KindInt64s:
		return slicesEqual(p.Int64Values, o.Int64Values)
	case KindFloats:
		return slicesEqual(p.FloatValues, o.FloatValues)
	case KindBytes:
		return slicesEqual(p.ByteValues, o.ByteValues)
	case KindString:
		return p.StringValue == o.StringValue
	default:
		return true
	}
}

func slicesEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Value is one property reading or write target: the property id, the area
// it applies to (0 = global), and the typed payload. Timestamp is set by the
// hardware on read results, in nanoseconds since the epoch.
type Value struct {
	Prop      int32   `json:"prop"`
	Area      int32   `json:"area,omitempty"`
	Payload   Payload `json:"payload"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Equal compares property, area and payload. Timestamps are not compared;
// two readings of the same data taken at different times are the same value.
func (v Value) Equal(o Value) bool {
	return v.Prop == o.Prop && v.Area == o.Area && v.Payload.Equal(o.Payload)
}

// String renders a compact form for logs.
func (v Value) String() string {
	return fmt.Sprintf("prop=0x%x area=%d kind=%s n=%d", v.Prop, v.Area, v.Payload.Kind, v.Payload.Len())
}
