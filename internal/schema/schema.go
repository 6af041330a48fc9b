// Package schema holds the read-only property schema: the set of properties
// the service knows, keyed by property id. Built once at startup, queried by
// the validator and the hardware backends, never mutated afterwards.
package schema

import (
	"fmt"

	"github.com/mattjoyce/telltale/internal/prop"
)

// Schema is an immutable property-id to config lookup.
type Schema struct {
	byProp  map[int32]prop.Config
	ordered []prop.Config
}

// New builds a schema from configs, rejecting duplicate property ids and
// duplicate area ids within one property.
func New(configs []prop.Config) (*Schema, error) {
	s := &Schema{
		byProp:  make(map[int32]prop.Config, len(configs)),
		ordered: make([]prop.Config, 0, len(configs)),
	}
	for _, cfg := range configs {
		if _, dup := s.byProp[cfg.Prop]; dup {
			return nil, fmt.Errorf("duplicate property 0x%x", uint32(cfg.Prop))
		}
		seen := make(map[int32]struct{}, len(cfg.Areas))
		for _, ac := range cfg.Areas {
			if _, dup := seen[ac.Area]; dup {
				return nil, fmt.Errorf("property 0x%x: duplicate area %d", uint32(cfg.Prop), ac.Area)
			}
			seen[ac.Area] = struct{}{}
		}
		s.byProp[cfg.Prop] = cfg
		s.ordered = append(s.ordered, cfg)
	}
	return s, nil
}

// Lookup returns the config for a property id.
func (s *Schema) Lookup(propID int32) (prop.Config, bool) {
	cfg, ok := s.byProp[propID]
	return cfg, ok
}

// All returns the configs in declaration order. Callers must treat the
// slice as read-only.
func (s *Schema) All() []prop.Config {
	return s.ordered
}

// Len returns the number of properties.
func (s *Schema) Len() int {
	return len(s.ordered)
}
