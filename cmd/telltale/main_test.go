package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/mattjoyce/telltale/internal/config"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeTestConfig writes a loadable fake-backend config plus schema into
// dir, with all paths absolute so no check touches the working directory.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()

	schemaPath := filepath.Join(dir, "schema.yaml")
	schemaYAML := `version: 1
properties:
  - prop: 0x1100
    type: INT32_VEC
    areas:
      - area: 0
        min_int32: 0
        max_int32: 100
`
	if err := os.WriteFile(schemaPath, []byte(schemaYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := fmt.Sprintf(`service:
  name: telltale
  log_level: error
  pid_file: %s

dispatch:
  request_timeout: 1s
  inline_limit: 4096
  buffer_dir: %s

schema:
  path: schema.yaml

backend:
  kind: fake
  fake:
    workers: 1
    store: memory
`,
		filepath.Join(dir, "data", "telltale.pid"),
		filepath.Join(dir, "buffers"))
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bogus"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("stderr missing unknown command message: %s", stderr)
	}
}

func TestRunCLINoArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
}

func TestRunCLIHelp(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"help"})
	})
	if code != 0 {
		t.Fatalf("runCLI(help) code = %d", code)
	}
	if !strings.Contains(stdout, "system start") || !strings.Contains(stdout, "config lock") {
		t.Fatalf("usage missing commands: %s", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abcdef1234567890", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", info.Version)
	}
	if info.Commit != "abcdef123456" {
		t.Errorf("Commit = %q, want 12-char prefix", info.Commit)
	}
	if info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Errorf("BuildTime = %q", info.BuildTime)
	}
}

func TestRunVersionRejectsPositionalArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"extra"})
	})
	if code != 1 {
		t.Fatalf("runVersion(extra) code = %d, want 1", code)
	}
}

func TestRunConfigCheckValid(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("stdout missing validity line: %s", stdout)
	}
}

func TestRunConfigCheckJSON(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d", code)
	}

	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("check output is not JSON: %v\n%s", err, stdout)
	}
	if !result.Valid {
		t.Fatalf("expected valid config, got %s", stdout)
	}
}

func TestRunConfigCheckMissingConfig(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Config load error") {
		t.Fatalf("stderr missing load error: %s", stderr)
	}
}

func TestRunConfigLockVerboseDryRun(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}

	hashPattern := regexp.MustCompile(`HASH config\.yaml: [a-f0-9]{64}`)
	if !hashPattern.MatchString(stdout) {
		t.Fatalf("stdout missing config hash line: %s", stdout)
	}
	if !strings.Contains(stdout, "HASH schema.yaml:") {
		t.Fatalf("stdout missing schema hash line: %s", stdout)
	}
	if !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout missing dry-run summary: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatalf(".checksums written despite --dry-run")
	}
}

func TestRunConfigLockThenLoadVerifies(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	// Locked state loads clean.
	if _, err := config.Load(configPath); err != nil {
		t.Fatalf("config.Load after lock failed: %v", err)
	}

	// Tampering with a covered file breaks the load until re-locked.
	schemaPath := filepath.Join(dir, "schema.yaml")
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(schemaPath, append(data, '\n', '#', 'x', '\n'), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(configPath); err == nil {
		t.Fatal("config.Load accepted a tampered schema file")
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("re-lock code = %d, stderr: %s", code, stderr)
	}
	if _, err := config.Load(configPath); err != nil {
		t.Fatalf("config.Load after re-lock failed: %v", err)
	}
}

func TestRunConfigShowJSON(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigShow([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runConfigShow() code = %d", code)
	}

	var cfg config.Config
	if err := json.Unmarshal([]byte(stdout), &cfg); err != nil {
		t.Fatalf("show output is not JSON: %v\n%s", err, stdout)
	}
	if cfg.Backend.Kind != "fake" {
		t.Errorf("Backend.Kind = %q, want fake", cfg.Backend.Kind)
	}
}

func TestRunConfigInitAndCheck(t *testing.T) {
	dir := t.TempDir()

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigInit([]string{"--dir", dir})
	})
	if code != 0 {
		t.Fatalf("runConfigInit() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Wrote") {
		t.Fatalf("stdout missing write confirmation: %s", stdout)
	}

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.Schema.Path != filepath.Join(dir, "schema.yaml") {
		t.Errorf("Schema.Path = %q, want resolved path in %s", cfg.Schema.Path, dir)
	}

	// A second init must refuse to clobber.
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigInit([]string{"--dir", dir})
	})
	if code != 1 {
		t.Fatalf("second runConfigInit() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Refusing to overwrite") {
		t.Fatalf("stderr missing overwrite refusal: %s", stderr)
	}
}

func TestRunSystemStatusJSON(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runSystemStatus() code = %d, stderr: %s", code, stderr)
	}

	var st systemStatus
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, stdout)
	}
	if !st.ConfigValid {
		t.Errorf("ConfigValid = false: %s", stdout)
	}
	if st.Running {
		t.Errorf("Running = true with no daemon: %s", stdout)
	}
}

func TestRunSchemaShow(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSchemaShow([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runSchemaShow() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "0x1100  INT32_VEC") {
		t.Fatalf("stdout missing property line: %s", stdout)
	}
	if !strings.Contains(stdout, "area 0 [0, 100]") {
		t.Fatalf("stdout missing area bounds: %s", stdout)
	}
}

func TestRunSchemaShowDirectPath(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSchemaShow([]string{"--schema", filepath.Join(dir, "schema.yaml"), "--json"})
	})
	if code != 0 {
		t.Fatalf("runSchemaShow() code = %d", code)
	}

	var configs []struct {
		Prop int32 `json:"prop"`
	}
	if err := json.Unmarshal([]byte(stdout), &configs); err != nil {
		t.Fatalf("schema output is not JSON: %v\n%s", err, stdout)
	}
	if len(configs) != 1 || configs[0].Prop != 0x1100 {
		t.Fatalf("unexpected property list: %s", stdout)
	}
}

func TestRunDemo(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runDemo([]string{"--requests", "6", "--batch", "3", "--latency", "0", "--timeout", "2s"})
	})
	if code != 0 {
		t.Fatalf("runDemo() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "demo complete: 6 set + 6 get requests in 4 batches") {
		t.Fatalf("stdout missing summary: %s", stdout)
	}
	if !strings.Contains(stdout, "OK: 12") {
		t.Fatalf("stdout missing status counts: %s", stdout)
	}
}

func TestRunSystemStatusBadConfig(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--json"})
	})
	if code != 1 {
		t.Fatalf("runSystemStatus() code = %d, want 1", code)
	}

	var st systemStatus
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, stdout)
	}
	if st.ConfigError == "" {
		t.Errorf("ConfigError empty for missing config")
	}
}
