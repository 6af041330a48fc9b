// Package doctor runs preflight checks over a loaded telltale
// configuration: schema parse, checksum integrity, directory access, and
// backend readiness. It is the engine behind `telltale config check`.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/hardware"
	"github.com/mattjoyce/telltale/internal/schema"
	"github.com/mattjoyce/telltale/internal/transport"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the environment it will
// run in. Checks may create directories the daemon would create at start.
type Doctor struct {
	configPath string
	cfg        *config.Config
}

// New creates a Doctor for a loaded config. configPath is the file the
// config came from; it anchors checksum verification.
func New(configPath string, cfg *config.Config) *Doctor {
	return &Doctor{configPath: configPath, cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	loaded := d.checkSchema(r)
	d.checkIntegrity(r)
	d.checkBufferDir(r)
	d.checkStore(r)
	d.checkBackend(r, loaded)
	d.checkDispatch(r)
	d.checkAPI(r)
	d.checkPidFile(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkSchema parses the schema file when one is configured and returns it
// for the backend check.
func (d *Doctor) checkSchema(r *Result) *schema.Schema {
	if d.cfg.Schema.Path == "" {
		d.addWarning(r, "schema", "schema.path",
			"no schema file configured; the property schema will come from the backend")
		return nil
	}

	s, err := schema.LoadFile(d.cfg.Schema.Path)
	if err != nil {
		d.addError(r, "schema", "schema.path",
			fmt.Sprintf("schema %s failed to load: %v", d.cfg.Schema.Path, err))
		return nil
	}
	return s
}

// checkIntegrity folds checksum verification into the report.
func (d *Doctor) checkIntegrity(r *Result) {
	result := config.VerifyIntegrity(d.configPath, d.cfg)
	for _, w := range result.Warnings {
		d.addWarning(r, "integrity", "", w)
	}
	for _, e := range result.Errors {
		d.addError(r, "integrity", "", e)
	}
}

// checkBufferDir verifies the out-of-band buffer directory is writable.
func (d *Doctor) checkBufferDir(r *Result) {
	dir := d.cfg.Dispatch.BufferDir
	if dir == "" {
		dir = transport.DefaultBufferDir()
	}
	if err := probeDir(dir); err != nil {
		d.addError(r, "buffers", "dispatch.buffer_dir",
			fmt.Sprintf("buffer directory %s is not writable: %v", dir, err))
	}
}

// checkStore verifies the sqlite value store location is writable.
func (d *Doctor) checkStore(r *Result) {
	if d.cfg.Backend.Kind != "fake" || d.cfg.Backend.Fake.Store != "sqlite" {
		return
	}
	dir := filepath.Dir(d.cfg.Backend.Fake.StorePath)
	if err := probeDir(dir); err != nil {
		d.addError(r, "store", "backend.fake.store_path",
			fmt.Sprintf("store directory %s is not writable: %v", dir, err))
	}
}

// checkBackend validates the modbus register map against the loaded schema
// by constructing the bridge. The connection itself is lazy, so nothing is
// dialed here.
func (d *Doctor) checkBackend(r *Result, loaded *schema.Schema) {
	if d.cfg.Backend.Kind != "modbus" {
		return
	}
	if loaded == nil {
		// Schema errors are already reported; the map cannot be checked.
		return
	}

	bridge, err := hardware.NewModbusBridge(loaded, d.cfg.Backend.Modbus)
	if err != nil {
		d.addError(r, "backend", "backend.modbus",
			fmt.Sprintf("modbus register map rejected: %v", err))
		return
	}
	_ = bridge.Close()

	if d.cfg.Backend.Modbus.Protocol == "tcp" {
		addr := net.JoinHostPort(d.cfg.Backend.Modbus.Host, fmt.Sprintf("%d", d.cfg.Backend.Modbus.Port))
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			d.addWarning(r, "backend", "backend.modbus",
				fmt.Sprintf("modbus endpoint %s not reachable: %v (the daemon will retry on demand)", addr, err))
			return
		}
		_ = conn.Close()
	}
}

// checkDispatch flags unusual dispatcher settings.
func (d *Doctor) checkDispatch(r *Result) {
	if d.cfg.Dispatch.RequestTimeout < 100*time.Millisecond {
		d.addWarning(r, "dispatch", "dispatch.request_timeout",
			fmt.Sprintf("request timeout %v is very short; slow hardware will answer TRY_AGAIN constantly", d.cfg.Dispatch.RequestTimeout))
	}
	if d.cfg.Dispatch.InlineLimit < 512 {
		d.addWarning(r, "dispatch", "dispatch.inline_limit",
			fmt.Sprintf("inline limit %d forces most batches out-of-band", d.cfg.Dispatch.InlineLimit))
	}
}

// checkAPI checks observability server settings.
func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	if d.cfg.API.Auth.APIKey == "" {
		msg := "API enabled but no authentication configured"
		host, _, err := net.SplitHostPort(d.cfg.API.Listen)
		if err == nil && host != "127.0.0.1" && host != "localhost" && host != "::1" {
			msg = fmt.Sprintf("API listens on %s without authentication", d.cfg.API.Listen)
		}
		d.addWarning(r, "api", "api.auth", msg)
	}
}

// checkPidFile verifies the pid file location is writable.
func (d *Doctor) checkPidFile(r *Result) {
	if d.cfg.Service.PidFile == "" {
		return
	}
	if err := probeDir(filepath.Dir(d.cfg.Service.PidFile)); err != nil {
		d.addError(r, "service", "service.pid_file",
			fmt.Sprintf("pid file directory is not writable: %v", err))
	}
}

// probeDir ensures dir exists and takes a throwaway write.
func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".telltale-doctor")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
