package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/telltale/internal/api"
	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/dispatch"
	"github.com/mattjoyce/telltale/internal/events"
	"github.com/mattjoyce/telltale/internal/hardware"
	"github.com/mattjoyce/telltale/internal/lock"
	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/metrics"
	"github.com/mattjoyce/telltale/internal/schema"
	"github.com/mattjoyce/telltale/internal/stats"
	"github.com/mattjoyce/telltale/internal/transport"
	"github.com/mattjoyce/telltale/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "schema":
		return runSchemaNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "demo":
		if hasHelpFlag(args) {
			printDemoHelp()
			return 0
		}
		return runDemo(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: telltale version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("telltale %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`telltale - Vehicle property dispatch service

Usage:
  telltale <noun> <action> [flags]

Core Resources (Nouns):
  system    Daemon lifecycle and health
  config    Service configuration and integrity
  schema    Property schema inspection

System Commands:
  system start      Start the property service in foreground
  system status     Show daemon health (config, pid lock, preflights)
  system watch      Real-time dispatch monitoring TUI

Config Commands:
  config check      Validate syntax, schema, and integrity
  config lock       Authorize current state (update integrity hashes)
  config show       Show the resolved configuration
  config init       Write a starter config and property schema

Schema Commands:
  schema show       Print the property table (ids, types, areas, bounds)

General:
  demo              Drive set/get bursts through an in-process stack
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'telltale <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock", "hash-update":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "init":
		if hasHelpFlag(actionArgs) {
			printConfigInitHelp()
			return 0
		}
		return runConfigInit(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: telltale system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: telltale config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show, init")
}

func printSystemStartHelp() {
	fmt.Println("Usage: telltale system start [--config PATH]")
	fmt.Println("Start the property service in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: telltale system status [--config PATH] [--json]")
	fmt.Println("Show daemon health: config validity, preflight checks, and pid lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: telltale system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time dispatch monitoring TUI.")
	fmt.Println("Shows daemon health, throughput rates, per-client traffic, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Daemon API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or TELLTALE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, PgUp/PgDn   Scroll events")
}

func printConfigLockHelp() {
	fmt.Println("Usage: telltale config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes")
	fmt.Println("for the config file and the property schema.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: telltale config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, schema, backend readiness, and integrity.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: telltale config show [--config PATH] [--json]")
	fmt.Println("Show the fully resolved configuration.")
}

func printConfigInitHelp() {
	fmt.Println("Usage: telltale config init [--dir PATH]")
	fmt.Println("Write a starter config.yaml and schema.yaml into the target directory.")
}

// --- ACTION IMPLEMENTATIONS ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Daemon API URL")
	apiKey := fs.String("api-key", os.Getenv("TELLTALE_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupFormat(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("telltale starting", "version", version, "config", *configPath)

	if cfg.Schema.Path == "" {
		logger.Error("schema.path is required to start the daemon")
		return 1
	}
	sch, err := schema.LoadFile(cfg.Schema.Path)
	if err != nil {
		logger.Error("failed to load property schema", "path", cfg.Schema.Path, "error", err)
		return 1
	}
	logger.Info("property schema loaded", "path", cfg.Schema.Path, "properties", sch.Len())

	pidLock, err := lock.Acquire(cfg.Service.PidFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PidFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", cfg.Service.PidFile)

	backend, backendCleanup, err := buildBackend(cfg, sch)
	if err != nil {
		logger.Error("failed to build hardware backend", "kind", cfg.Backend.Kind, "error", err)
		return 1
	}
	defer backendCleanup()
	defer backend.Close()
	logger.Info("hardware backend ready", "kind", cfg.Backend.Kind)

	bufferDir := cfg.Dispatch.BufferDir
	if bufferDir == "" {
		bufferDir = transport.DefaultBufferDir()
	}
	bufferStore, err := transport.NewFileStore(bufferDir)
	if err != nil {
		logger.Error("failed to open buffer store", "dir", bufferDir, "error", err)
		return 1
	}

	hub := events.NewHub(cfg.Events.Buffer)

	svc, err := dispatch.NewService(backend,
		dispatch.WithTimeout(cfg.Dispatch.RequestTimeout),
		dispatch.WithInlineLimit(cfg.Dispatch.InlineLimit),
		dispatch.WithBufferStore(bufferStore),
		dispatch.WithHub(hub),
	)
	if err != nil {
		logger.Error("failed to build dispatch service", "error", err)
		return 1
	}
	defer svc.Close()
	logger.Info("dispatch service ready",
		"request_timeout", cfg.Dispatch.RequestTimeout,
		"inline_limit", cfg.Dispatch.InlineLimit,
		"buffer_dir", bufferDir)

	monitor := stats.New(cfg.Stats.ReportInterval)
	monitor.Start(hub)
	defer monitor.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		reg := metrics.New(svc)
		apiServer := api.New(cfg.API, svc, monitor, hub, reg.Handler())
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	hub.Publish(events.TypeDaemonStarted, map[string]any{"version": version})
	logger.Info("telltale running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	hub.Publish(events.TypeDaemonStopping, nil)
	cancel()

	logger.Info("telltale stopped")
	return 0
}

// buildBackend constructs the configured hardware backend over the loaded
// schema. The caller must Close the backend first, then call cleanup to
// release the value store behind it.
func buildBackend(cfg *config.Config, sch *schema.Schema) (hardware.Backend, func(), error) {
	noop := func() {}
	switch cfg.Backend.Kind {
	case "fake":
		var store hardware.ValueStore
		cleanup := noop
		switch cfg.Backend.Fake.Store {
		case "sqlite":
			s, err := hardware.OpenSQLite(context.Background(), cfg.Backend.Fake.StorePath)
			if err != nil {
				return nil, nil, fmt.Errorf("open sqlite value store: %w", err)
			}
			store = s
			cleanup = func() { _ = s.Close() }
		default:
			store = hardware.NewMemStore()
		}
		fake := hardware.NewFake(sch, store, cfg.Backend.Fake.Workers)
		if cfg.Backend.Fake.Latency > 0 {
			fake.SetLatency(cfg.Backend.Fake.Latency)
		}
		return fake, cleanup, nil
	case "modbus":
		bridge, err := hardware.NewModbusBridge(sch, cfg.Backend.Modbus)
		if err != nil {
			return nil, nil, err
		}
		return bridge, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}
