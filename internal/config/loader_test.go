package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
backend:
  kind: fake
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "telltale" {
					t.Errorf("service.name default not applied: %q", cfg.Service.Name)
				}
				if cfg.Service.LogLevel != "info" {
					t.Errorf("log_level default not applied: %q", cfg.Service.LogLevel)
				}
				if cfg.Dispatch.RequestTimeout != 30*time.Second {
					t.Errorf("request_timeout default not applied: %v", cfg.Dispatch.RequestTimeout)
				}
				if cfg.Dispatch.InlineLimit != 4096 {
					t.Errorf("inline_limit default not applied: %d", cfg.Dispatch.InlineLimit)
				}
				if cfg.Backend.Fake.Workers != 2 {
					t.Errorf("fake.workers default not applied: %d", cfg.Backend.Fake.Workers)
				}
				if cfg.Backend.Fake.Store != "memory" {
					t.Errorf("fake.store default not applied: %q", cfg.Backend.Fake.Store)
				}
				if cfg.API.Enabled {
					t.Error("api should default to disabled")
				}
				if cfg.Events.Buffer != 256 {
					t.Errorf("events.buffer default not applied: %d", cfg.Events.Buffer)
				}
			},
		},
		{
			name: "explicit settings survive defaults",
			yaml: `
service:
  name: telltale-test
  log_level: debug
dispatch:
  request_timeout: 250ms
  inline_limit: 1024
backend:
  kind: fake
  fake:
    workers: 4
    latency: 10ms
    store: sqlite
    store_path: ./values.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Dispatch.RequestTimeout != 250*time.Millisecond {
					t.Errorf("request_timeout not parsed: %v", cfg.Dispatch.RequestTimeout)
				}
				if cfg.Dispatch.InlineLimit != 1024 {
					t.Errorf("inline_limit not parsed: %d", cfg.Dispatch.InlineLimit)
				}
				if cfg.Backend.Fake.Workers != 4 {
					t.Errorf("fake.workers not parsed: %d", cfg.Backend.Fake.Workers)
				}
				if cfg.Backend.Fake.Latency != 10*time.Millisecond {
					t.Errorf("fake.latency not parsed: %v", cfg.Backend.Fake.Latency)
				}
				if cfg.Backend.Fake.StorePath != "./values.db" {
					t.Errorf("fake.store_path not parsed: %q", cfg.Backend.Fake.StorePath)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
backend:
  kind: fake
api:
  enabled: true
  listen: ${TELLTALE_LISTEN}
  auth:
    api_key: ${TELLTALE_API_KEY}
`,
			env: map[string]string{
				"TELLTALE_LISTEN":  "127.0.0.1:9999",
				"TELLTALE_API_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Listen != "127.0.0.1:9999" {
					t.Errorf("env var not interpolated in api.listen: %s", cfg.API.Listen)
				}
				if cfg.API.Auth.APIKey != "secret123" {
					t.Errorf("env var not interpolated in api_key: %s", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "missing env var in api key fails validation",
			yaml: `
backend:
  kind: fake
api:
  enabled: true
  listen: 127.0.0.1:8080
  auth:
    api_key: ${TELLTALE_MISSING_KEY}
`,
			wantErr: "TELLTALE_MISSING_KEY",
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: loud
backend:
  kind: fake
`,
			wantErr: "log_level",
		},
		{
			name: "unknown backend kind",
			yaml: `
backend:
  kind: carrier-pigeon
`,
			wantErr: "backend.kind",
		},
		{
			name: "sqlite store without path",
			yaml: `
backend:
  kind: fake
  fake:
    store: sqlite
`,
			wantErr: "store_path",
		},
		{
			name: "negative request timeout",
			yaml: `
dispatch:
  request_timeout: -5s
backend:
  kind: fake
`,
			wantErr: "request_timeout",
		},
		{
			name: "modbus tcp without host",
			yaml: `
schema:
  path: schema.yaml
backend:
  kind: modbus
  modbus:
    protocol: tcp
    port: 502
    points:
      - prop: 0x0100
        area: 1
        address: 0
        register: holding
        data_type: int16
`,
			wantErr: "modbus.host",
		},
		{
			name: "modbus without points",
			yaml: `
schema:
  path: schema.yaml
backend:
  kind: modbus
  modbus:
    protocol: tcp
    host: 127.0.0.1
    port: 502
`,
			wantErr: "points",
		},
		{
			name: "modbus without schema path",
			yaml: `
backend:
  kind: modbus
  modbus:
    protocol: tcp
    host: 127.0.0.1
    port: 502
    points:
      - prop: 0x0100
        area: 1
        address: 0
        register: holding
        data_type: int16
`,
			wantErr: "schema.path",
		},
		{
			name: "valid modbus config",
			yaml: `
schema:
  path: schema.yaml
backend:
  kind: modbus
  modbus:
    protocol: tcp
    host: 10.0.0.5
    port: 1502
    slave_id: 3
    points:
      - prop: 0x0100
        area: 1
        address: 40001
        register: holding
        data_type: int32
        byte_order: CDAB
        scale: 0.1
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Backend.Modbus.Host != "10.0.0.5" {
					t.Errorf("modbus.host not parsed: %q", cfg.Backend.Modbus.Host)
				}
				if cfg.Backend.Modbus.Timeout != 5*time.Second {
					t.Errorf("modbus.timeout default not applied: %v", cfg.Backend.Modbus.Timeout)
				}
				if len(cfg.Backend.Modbus.Points) != 1 {
					t.Fatalf("points not parsed: %d", len(cfg.Backend.Modbus.Points))
				}
				p := cfg.Backend.Modbus.Points[0]
				if p.Prop != 0x0100 || p.Address != 40001 || p.ByteOrder != "CDAB" || p.Scale != 0.1 {
					t.Errorf("point not parsed: %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := Load(configPath)

			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadAcceptsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("backend:\n  kind: fake\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Backend.Kind != "fake" {
		t.Errorf("backend.kind = %q", cfg.Backend.Kind)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() succeeded for missing file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not-found hint", err)
	}
}

func TestLoadResolvesSchemaPathRelativeToConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yaml := "schema:\n  path: props/schema.yaml\nbackend:\n  kind: fake\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := filepath.Join(tmpDir, "props", "schema.yaml")
	if cfg.Schema.Path != want {
		t.Errorf("schema.path = %q, want %q", cfg.Schema.Path, want)
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${HOME_DIR}/data",
			env:   map[string]string{"HOME_DIR": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${T_USER}:${T_PASS}@${T_HOST}",
			env: map[string]string{
				"T_USER": "admin",
				"T_PASS": "secret",
				"T_HOST": "localhost",
			},
			want: "admin:secret@localhost",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${UNDEFINED_VAR_XYZ}",
			want:  "key: ${UNDEFINED_VAR_XYZ}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := interpolateEnv(tt.input); got != tt.want {
				t.Errorf("interpolateEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("backend:\n  kind: fake\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if err := GenerateChecksums(tmpDir, []string{"config.yaml"}); err != nil {
		t.Fatalf("GenerateChecksums() error = %v", err)
	}

	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load() with valid checksums error = %v", err)
	}

	// Tamper with the config after locking.
	if err := os.WriteFile(configPath, []byte("backend:\n  kind: fake\n# edited\n"), 0644); err != nil {
		t.Fatalf("failed to tamper config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() succeeded after tamper")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("error = %v, want hash mismatch", err)
	}
}

func TestLoadRejectsUncoveredFileWhenManifestExists(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("backend:\n  kind: fake\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Manifest exists but covers a different file.
	other := filepath.Join(tmpDir, "other.yaml")
	if err := os.WriteFile(other, []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}
	if err := GenerateChecksums(tmpDir, []string{"other.yaml"}); err != nil {
		t.Fatalf("GenerateChecksums() error = %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() succeeded with uncovered config")
	}
	if !strings.Contains(err.Error(), "no hash in checksums") {
		t.Errorf("error = %v, want no-hash message", err)
	}
}
