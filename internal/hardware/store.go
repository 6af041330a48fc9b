package hardware

import (
	"sync"

	"github.com/mattjoyce/telltale/internal/prop"
)

// ValueStore holds the property values behind a backend, keyed by
// (property, area).
type ValueStore interface {
	Load(propID, area int32) (prop.Value, bool, error)
	Save(v prop.Value) error
	All() ([]prop.Value, error)
	Close() error
}

type valueKey struct {
	prop int32
	area int32
}

// MemStore is the in-memory ValueStore. Contents reset with the process.
type MemStore struct {
	mu     sync.RWMutex
	values map[valueKey]prop.Value
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[valueKey]prop.Value)}
}

// Load returns the stored value for (propID, area).
func (s *MemStore) Load(propID, area int32) (prop.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[valueKey{prop: propID, area: area}]
	return v, ok, nil
}

// Save stores v under its (property, area) key, replacing any prior value.
func (s *MemStore) Save(v prop.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[valueKey{prop: v.Prop, area: v.Area}] = v
	return nil
}

// All returns every stored value in unspecified order.
func (s *MemStore) All() ([]prop.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]prop.Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}
