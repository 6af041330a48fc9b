package prop

import "fmt"

// Type is the declared value type of a property. Scalar types require
// exactly one element in the matching payload arm; vector types require at
// least one.
type Type int32

const (
	TypeInt32 Type = iota
	TypeInt32Vec
	TypeInt64
	TypeInt64Vec
	TypeFloat
	TypeFloatVec
	TypeBytes
	TypeString
)

// String returns the schema-file name of the type.
func (t Type) String() string {
	switch t {
	case TypeInt32:
		return "INT32"
	case TypeInt32Vec:
		return "INT32_VEC"
	case TypeInt64:
		return "INT64"
	case TypeInt64Vec:
		return "INT64_VEC"
	case TypeFloat:
		return "FLOAT"
	case TypeFloatVec:
		return "FLOAT_VEC"
	case TypeBytes:
		return "BYTES"
	case TypeString:
		return "STRING"
	default:
		return fmt.Sprintf("TYPE(%d)", int32(t))
	}
}

// ParseType maps a schema-file type name to its Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "INT32":
		return TypeInt32, nil
	case "INT32_VEC":
		return TypeInt32Vec, nil
	case "INT64":
		return TypeInt64, nil
	case "INT64_VEC":
		return TypeInt64Vec, nil
	case "FLOAT":
		return TypeFloat, nil
	case "FLOAT_VEC":
		return TypeFloatVec, nil
	case "BYTES":
		return TypeBytes, nil
	case "STRING":
		return TypeString, nil
	default:
		return 0, fmt.Errorf("unknown property type %q", s)
	}
}

// Kind returns the payload arm a value of this type must populate.
func (t Type) Kind() Kind {
	switch t {
	case TypeInt32, TypeInt32Vec:
		return KindInt32s
	case TypeInt64, TypeInt64Vec:
		return KindInt64s
	case TypeFloat, TypeFloatVec:
		return KindFloats
	case TypeBytes:
		return KindBytes
	case TypeString:
		return KindString
	default:
		return KindEmpty
	}
}

// IsVector reports whether the type allows more than one element.
func (t Type) IsVector() bool {
	switch t {
	case TypeInt32Vec, TypeInt64Vec, TypeFloatVec, TypeBytes:
		return true
	default:
		return false
	}
}

// AreaConfig holds the per-area limits of a property. Absent bounds leave
// that side unconstrained. Only the bounds matching the property's type are
// consulted.
type AreaConfig struct {
	Area     int32    `json:"area"`
	MinInt32 *int32   `json:"min_int32,omitempty"`
	MaxInt32 *int32   `json:"max_int32,omitempty"`
	MinInt64 *int64   `json:"min_int64,omitempty"`
	MaxInt64 *int64   `json:"max_int64,omitempty"`
	MinFloat *float32 `json:"min_float,omitempty"`
	MaxFloat *float32 `json:"max_float,omitempty"`
}

// Config is the schema entry for one property.
type Config struct {
	Prop  int32        `json:"prop"`
	Type  Type         `json:"type"`
	Areas []AreaConfig `json:"areas,omitempty"`
}

// Area resolves an area id against the config. A property with no configured
// areas has exactly one implicit global area, id 0, with no limits.
func (c Config) Area(area int32) (AreaConfig, bool) {
	if len(c.Areas) == 0 {
		if area == 0 {
			return AreaConfig{}, true
		}
		return AreaConfig{}, false
	}
	for _, ac := range c.Areas {
		if ac.Area == area {
			return ac, true
		}
	}
	return AreaConfig{}, false
}
