// Package config loads the telltale YAML configuration: defaults, ${VAR}
// environment interpolation, validation with actionable messages, and
// blake3 checksum verification against a .checksums manifest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, and validates the configuration at configPath.
// A directory path means config.yaml inside it. When a .checksums manifest
// exists next to a covered file, the file must verify against it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyDefaults(cfg)

	// The schema file travels with the config for integrity purposes.
	if cfg.Schema.Path != "" {
		cfg.Schema.Path = resolveRelative(filepath.Dir(absPath), cfg.Schema.Path)
	}

	if err := verifyCoveredHashes(coveredFiles(absPath, cfg)); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadUnverified loads and validates the configuration without checking
// checksum manifests. `config lock` uses it to re-authorize files the
// operator has just edited; everything else goes through Load.
func LoadUnverified(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyDefaults(cfg)
	if cfg.Schema.Path != "" {
		cfg.Schema.Path = resolveRelative(filepath.Dir(absPath), cfg.Schema.Path)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CoveredFiles returns the absolute paths of the files a .checksums
// manifest must cover for this configuration: the config file itself plus
// the schema file when one is configured.
func CoveredFiles(configPath string, cfg *Config) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return coveredFiles(absPath, cfg), nil
}

// resolveConfigPath turns configPath into the absolute path of the config
// file, accepting a directory containing config.yaml.
func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

func resolveRelative(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// coveredFiles lists the files that participate in checksum verification:
// the config file itself plus the schema file when one is configured.
func coveredFiles(configPath string, cfg *Config) []string {
	files := []string{configPath}
	if cfg.Schema.Path != "" {
		files = append(files, cfg.Schema.Path)
	}
	return files
}

// verifyCoveredHashes checks each file against the .checksums manifest in
// its directory. Directories without a manifest are skipped; a manifest
// that exists but lacks an entry for a covered file is an error.
func verifyCoveredHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No manifest here; nothing to verify against.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: telltale config lock --config %s", basename, dir, dir)
			}

			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If you edited this file intentionally, run: telltale config lock --config %s", path, err, dir)
			}
		}
	}

	return nil
}

// applyDefaults merges default values into cfg where not explicitly set.
func applyDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.PidFile == "" {
		cfg.Service.PidFile = defaults.Service.PidFile
	}

	if cfg.Dispatch.RequestTimeout == 0 {
		cfg.Dispatch.RequestTimeout = defaults.Dispatch.RequestTimeout
	}
	if cfg.Dispatch.InlineLimit == 0 {
		cfg.Dispatch.InlineLimit = defaults.Dispatch.InlineLimit
	}

	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = defaults.Backend.Kind
	}
	if cfg.Backend.Fake.Workers == 0 {
		cfg.Backend.Fake.Workers = defaults.Backend.Fake.Workers
	}
	if cfg.Backend.Fake.Store == "" {
		cfg.Backend.Fake.Store = defaults.Backend.Fake.Store
	}
	if cfg.Backend.Kind == "modbus" && cfg.Backend.Modbus.Timeout == 0 {
		cfg.Backend.Modbus.Timeout = 5 * time.Second
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}

	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
	if cfg.Stats.ReportInterval == 0 {
		cfg.Stats.ReportInterval = defaults.Stats.ReportInterval
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Dispatch.RequestTimeout <= 0 {
		return fmt.Errorf("dispatch.request_timeout must be positive")
	}
	if cfg.Dispatch.InlineLimit <= 0 {
		return fmt.Errorf("dispatch.inline_limit must be positive")
	}

	switch cfg.Backend.Kind {
	case "fake":
		if err := validateFake(cfg.Backend.Fake); err != nil {
			return err
		}
	case "modbus":
		if err := validateModbus(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("backend.kind must be fake or modbus (got %q)", cfg.Backend.Kind)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
	}

	return nil
}

func validateFake(fake FakeConfig) error {
	if fake.Workers < 0 {
		return fmt.Errorf("backend.fake.workers must not be negative")
	}
	if fake.Latency < 0 {
		return fmt.Errorf("backend.fake.latency must not be negative")
	}
	switch fake.Store {
	case "memory":
	case "sqlite":
		if fake.StorePath == "" {
			return fmt.Errorf("backend.fake.store_path is required when store is sqlite")
		}
	default:
		return fmt.Errorf("backend.fake.store must be memory or sqlite (got %q)", fake.Store)
	}
	return nil
}

// validateModbus checks the connection settings and that the register map
// is present. Point-level validation against the schema happens when the
// bridge is built.
func validateModbus(cfg *Config) error {
	modbus := cfg.Backend.Modbus
	switch modbus.Protocol {
	case "tcp":
		if modbus.Host == "" {
			return fmt.Errorf("backend.modbus.host is required for tcp")
		}
		if modbus.Port <= 0 || modbus.Port > 65535 {
			return fmt.Errorf("backend.modbus.port must be in 1..65535 (got %d)", modbus.Port)
		}
	case "rtu":
		if modbus.SerialPort == "" {
			return fmt.Errorf("backend.modbus.serial_port is required for rtu")
		}
	default:
		return fmt.Errorf("backend.modbus.protocol must be tcp or rtu (got %q)", modbus.Protocol)
	}

	if len(modbus.Points) == 0 {
		return fmt.Errorf("backend.modbus.points must not be empty")
	}
	if cfg.Schema.Path == "" {
		return fmt.Errorf("schema.path is required for the modbus backend (register points are validated against it)")
	}
	if modbus.Timeout < 0 {
		return fmt.Errorf("backend.modbus.timeout must not be negative")
	}
	return nil
}
