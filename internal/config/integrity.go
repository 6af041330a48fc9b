package config

import (
	"fmt"
	"path/filepath"
)

// IntegrityResult collects the outcome of checksum verification for the
// doctor and the config check command.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// VerifyIntegrity checks the config file and the schema file (when one is
// configured) against the .checksums manifests in their directories.
// A missing manifest is a warning; a missing entry or a hash mismatch is
// an error.
func VerifyIntegrity(configPath string, cfg *Config) *IntegrityResult {
	result := &IntegrityResult{Passed: true}

	dirToFiles := make(map[string][]string)
	for _, path := range coveredFiles(configPath, cfg) {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		manifest, err := LoadChecksums(dir)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no .checksums manifest in %s; run 'telltale config lock' to enable integrity verification", dir))
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := manifest.Hashes[basename]
			if !ok {
				result.Passed = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("file %s not in .checksums manifest at %s", basename, dir))
				continue
			}

			actualHash, err := ComputeBlake3Hash(path)
			if err != nil {
				result.Passed = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to hash %s: %v", path, err))
				continue
			}

			if actualHash != expectedHash {
				result.Passed = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", basename, expectedHash, actualHash))
			}
		}
	}

	return result
}
