package config

import (
	"time"

	"github.com/mattjoyce/telltale/internal/hardware"
)

// Config is the complete telltale configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Schema   SchemaConfig   `yaml:"schema,omitempty"`
	Backend  BackendConfig  `yaml:"backend"`
	API      APIConfig      `yaml:"api,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
	Stats    StatsConfig    `yaml:"stats,omitempty"`
}

// ServiceConfig defines process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PidFile   string `yaml:"pid_file"`
}

// DispatchConfig defines dispatcher settings.
type DispatchConfig struct {
	// RequestTimeout is the deadline applied to every admitted request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// InlineLimit is the byte size above which batches go out-of-band.
	InlineLimit int `yaml:"inline_limit"`
	// BufferDir holds out-of-band buffers. Empty selects /dev/shm when
	// present, else the OS temp dir.
	BufferDir string `yaml:"buffer_dir,omitempty"`
}

// SchemaConfig points at the property schema file. An empty path means the
// schema is taken from the backend's property configs instead.
type SchemaConfig struct {
	Path string `yaml:"path,omitempty"`
}

// BackendConfig selects and configures the hardware backend.
type BackendConfig struct {
	Kind   string                `yaml:"kind"` // fake | modbus
	Fake   FakeConfig            `yaml:"fake,omitempty"`
	Modbus hardware.ModbusConfig `yaml:"modbus,omitempty"`
}

// FakeConfig tunes the simulator backend.
type FakeConfig struct {
	Workers int           `yaml:"workers"`
	Latency time.Duration `yaml:"latency,omitempty"`
	Store   string        `yaml:"store"` // memory | sqlite
	// StorePath is the sqlite file; required when store is sqlite.
	StorePath string `yaml:"store_path,omitempty"`
}

// APIConfig defines the observability HTTP server.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication. An empty key disables auth,
// which is only sane on a loopback listen address.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// EventsConfig sizes the in-process event hub.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// StatsConfig tunes the throughput monitor.
type StatsConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Defaults returns a Config with workable defaults: fake backend over an
// in-memory store, API disabled.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "telltale",
			LogLevel:  "info",
			LogFormat: "json",
			PidFile:   "./data/telltale.pid",
		},
		Dispatch: DispatchConfig{
			RequestTimeout: 30 * time.Second,
			InlineLimit:    4096,
		},
		Backend: BackendConfig{
			Kind: "fake",
			Fake: FakeConfig{
				Workers: 2,
				Store:   "memory",
			},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		Stats: StatsConfig{
			ReportInterval: 10 * time.Second,
		},
	}
}
