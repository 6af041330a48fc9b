// Package validate decides whether a single request is acceptable under the
// property schema. Checks run in a fixed order and stop at the first
// failure: the property must exist, the payload must match the declared
// type, the area must be configured, and numeric elements must sit inside
// the area's limits. Every rejection is INVALID_ARG.
package validate

import (
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/schema"
)

// Validator checks request values against a schema. It is pure: the same
// schema and value always produce the same verdict, and nothing is mutated.
type Validator struct {
	schema *schema.Schema
}

// New builds a validator over a schema.
func New(s *schema.Schema) *Validator {
	return &Validator{schema: s}
}

// CheckGet validates a read target. Get requests carry no payload, so only
// property existence and area membership apply.
func (v *Validator) CheckGet(val prop.Value) error {
	cfg, err := v.lookup(val)
	if err != nil {
		return err
	}
	return checkArea(cfg, val.Area)
}

// CheckSet validates a write: existence, payload type, area, then range.
func (v *Validator) CheckSet(val prop.Value) error {
	cfg, err := v.lookup(val)
	if err != nil {
		return err
	}
	if err := checkPayloadType(cfg.Type, val.Payload); err != nil {
		return err
	}
	if err := checkArea(cfg, val.Area); err != nil {
		return err
	}
	area, _ := cfg.Area(val.Area)
	return checkRange(cfg.Type, area, val.Payload)
}

func (v *Validator) lookup(val prop.Value) (prop.Config, error) {
	cfg, ok := v.schema.Lookup(val.Prop)
	if !ok {
		return prop.Config{}, prop.Errorf(prop.StatusInvalidArg, "unknown property 0x%x", uint32(val.Prop))
	}
	return cfg, nil
}

func checkArea(cfg prop.Config, area int32) error {
	if _, ok := cfg.Area(area); !ok {
		return prop.Errorf(prop.StatusInvalidArg, "property 0x%x has no area %d", uint32(cfg.Prop), area)
	}
	return nil
}

func checkPayloadType(t prop.Type, p prop.Payload) error {
	if p.Kind != t.Kind() {
		return prop.Errorf(prop.StatusInvalidArg, "property type %s requires a %s payload, got %s", t, t.Kind(), p.Kind)
	}
	n := p.Len()
	switch {
	case t == prop.TypeString:
		// Kind match is enough; empty strings are legal writes.
	case t.IsVector():
		if n == 0 {
			return prop.Errorf(prop.StatusInvalidArg, "property type %s requires a non-empty payload", t)
		}
	default:
		if n != 1 {
			return prop.Errorf(prop.StatusInvalidArg, "property type %s requires exactly one element, got %d", t, n)
		}
	}
	return nil
}

func checkRange(t prop.Type, area prop.AreaConfig, p prop.Payload) error {
	switch t.Kind() {
	case prop.KindInt32s:
		for _, v := range p.Int32Values {
			if area.MinInt32 != nil && v < *area.MinInt32 {
				return prop.Errorf(prop.StatusInvalidArg, "value %d below minimum %d", v, *area.MinInt32)
			}
			if area.MaxInt32 != nil && v > *area.MaxInt32 {
				return prop.Errorf(prop.StatusInvalidArg, "value %d above maximum %d", v, *area.MaxInt32)
			}
		}
	case prop.KindInt64s:
		for _, v := range p.Int64Values {
			if area.MinInt64 != nil && v < *area.MinInt64 {
				return prop.Errorf(prop.StatusInvalidArg, "value %d below minimum %d", v, *area.MinInt64)
			}
			if area.MaxInt64 != nil && v > *area.MaxInt64 {
				return prop.Errorf(prop.StatusInvalidArg, "value %d above maximum %d", v, *area.MaxInt64)
			}
		}
	case prop.KindFloats:
		for _, v := range p.FloatValues {
			if area.MinFloat != nil && v < *area.MinFloat {
				return prop.Errorf(prop.StatusInvalidArg, "value %g below minimum %g", v, *area.MinFloat)
			}
			if area.MaxFloat != nil && v > *area.MaxFloat {
				return prop.Errorf(prop.StatusInvalidArg, "value %g above maximum %g", v, *area.MaxFloat)
			}
		}
	}
	return nil
}
