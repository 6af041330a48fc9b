package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/doctor"
	"github.com/mattjoyce/telltale/internal/lock"
)

// starterConfig is written by `config init`. It points at the starter
// schema and keeps everything on loopback defaults.
const starterConfig = `service:
  name: telltale
  log_level: info
  log_format: json
  pid_file: ./data/telltale.pid

dispatch:
  request_timeout: 30s
  inline_limit: 4096

schema:
  path: schema.yaml

backend:
  kind: fake
  fake:
    workers: 2
    store: memory

api:
  enabled: true
  listen: 127.0.0.1:8080
  auth:
    api_key: ""

events:
  buffer: 256

stats:
  report_interval: 10s
`

// starterSchema gives new installs something to dispatch against: one
// global vector property and one zoned scalar, both range-limited.
const starterSchema = `version: 1
properties:
  - prop: 0x1100
    type: INT32_VEC
    areas:
      - area: 0
        min_int32: 0
        max_int32: 100
  - prop: 0x1200
    type: INT32
    areas:
      - area: 1
        min_int32: 0
        max_int32: 100
`

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	// Handle -json alias for format=json
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	doc := doctor.New(configPath, cfg)
	result := doc.Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config.yaml", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	// Lock must work on files the operator just edited, so checksum
	// verification is skipped here; it is exactly what gets regenerated.
	cfg, err := config.LoadUnverified(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	covered, err := config.CoveredFiles(configPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve covered files: %v\n", err)
		return 1
	}

	// One .checksums manifest per directory holding covered files. The
	// schema usually sits next to the config, so this is normally one.
	dirToFiles := make(map[string][]string)
	var dirs []string
	for _, path := range covered {
		dir := filepath.Dir(path)
		if _, seen := dirToFiles[dir]; !seen {
			dirs = append(dirs, dir)
		}
		dirToFiles[dir] = append(dirToFiles[dir], filepath.Base(path))
	}

	for _, dir := range dirs {
		report, err := config.GenerateChecksumsWithReport(dir, dirToFiles[dir], dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
			return 1
		}
		if isVerbose {
			fmt.Printf("Processing directory: %s\n", dir)
			for _, file := range report.Files {
				if file.Exists {
					fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
					continue
				}
				fmt.Printf("  SKIP %s: not found\n", file.Filename)
			}
			if dryRun {
				fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
			} else {
				fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
			}
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(dirs))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(dirs))
	}
	for _, dir := range dirs {
		fmt.Printf("  - %s\n", dir)
	}

	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".", "Target directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directory: %v\n", err)
		return 1
	}

	files := []struct {
		name, content string
	}{
		{"config.yaml", starterConfig},
		{"schema.yaml", starterSchema},
	}
	for _, f := range files {
		path := filepath.Join(*dir, f.name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Refusing to overwrite existing %s\n", path)
			return 1
		}
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("Wrote %s\n", path)
	}

	fmt.Println("Next steps:")
	fmt.Printf("  telltale config check --config %s\n", filepath.Join(*dir, "config.yaml"))
	fmt.Printf("  telltale config lock --config %s\n", filepath.Join(*dir, "config.yaml"))
	fmt.Printf("  telltale system start --config %s\n", filepath.Join(*dir, "config.yaml"))
	return 0
}

// systemStatus is the JSON shape of `system status --json`.
type systemStatus struct {
	ConfigValid bool   `json:"config_valid"`
	ConfigError string `json:"config_error,omitempty"`
	Errors      int    `json:"errors"`
	Warnings    int    `json:"warnings"`
	Running     bool   `json:"running"`
	PID         int    `json:"pid,omitempty"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	st := systemStatus{}

	cfg, err := config.Load(*configPath)
	if err != nil {
		st.ConfigError = err.Error()
	} else {
		result := doctor.New(*configPath, cfg).Validate()
		st.ConfigValid = result.Valid
		st.Errors = len(result.Errors)
		st.Warnings = len(result.Warnings)

		if pid, err := lock.ReadPID(cfg.Service.PidFile); err == nil {
			st.PID = pid
			// Signal 0 probes liveness without touching the process.
			st.Running = syscall.Kill(pid, 0) == nil
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
	} else {
		if st.ConfigError != "" {
			fmt.Printf("config:  FAILED (%s)\n", st.ConfigError)
		} else if st.ConfigValid {
			fmt.Printf("config:  OK (%d warning(s))\n", st.Warnings)
		} else {
			fmt.Printf("config:  INVALID (%d error(s), %d warning(s))\n", st.Errors, st.Warnings)
		}
		if st.Running {
			fmt.Printf("daemon:  running (pid %d)\n", st.PID)
		} else {
			fmt.Println("daemon:  not running")
		}
	}

	if st.ConfigError != "" || !st.ConfigValid {
		return 1
	}
	return 0
}
