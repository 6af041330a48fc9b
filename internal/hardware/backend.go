// Package hardware is the boundary to whatever actually holds property
// values. The dispatcher only ever sees the Backend interface; this package
// also ships the in-tree implementations: a fake simulator for tests, demos
// and development, and a modbus bridge for register-mapped hardware.
package hardware

import (
	"github.com/mattjoyce/telltale/internal/prop"
)

// GetDone delivers the results of one submitted get sub-batch. A backend
// invokes it exactly once per accepted submission, from its own goroutine.
type GetDone func(results []prop.GetResult)

// SetDone delivers the results of one submitted set sub-batch.
type SetDone func(results []prop.SetResult)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks github.com/mattjoyce/telltale/internal/hardware Backend

// Backend is the asynchronous hardware interface consumed by the
// dispatcher. The Async methods return nil when the sub-batch was accepted;
// a non-nil error means the whole sub-batch was rejected before acceptance
// and the done callback will never run for it.
type Backend interface {
	AllPropertyConfigs() ([]prop.Config, error)
	GetValuesAsync(requests []prop.GetRequest, done GetDone) error
	SetValuesAsync(requests []prop.SetRequest, done SetDone) error
	Close() error
}
