// Package config provides centralized configuration for nfa-intent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Fixed experiment constants.
const (
	// RandomState seeds every split and trainer so reruns reproduce metrics.
	RandomState int64 = 42

	// TargetColumn is the binary label column (0/1 or "benign"/"malicious").
	TargetColumn = "label"
)

// PathConfig holds the directory roots used by the pipelines.
// All paths can be overridden via environment variables.
type PathConfig struct {
	// Project is the root the other directories are resolved against
	Project string

	// Data is the root folder for datasets (pcaps/CSV/Zeek JSON)
	Data string

	// Staging is the folder for manifests and intermediates
	Staging string

	// Out is the folder reports are written to
	Out string
}

// DefaultPathConfig returns the default path configuration.
// Paths are determined by:
// 1. Environment variables (highest priority)
// 2. The project root (NFA_PROJECT_ROOT or the working directory)
func DefaultPathConfig() *PathConfig {
	root := getEnvOrDefault("NFA_PROJECT_ROOT", workingDir())

	return &PathConfig{
		Project: root,
		Data:    getEnvOrDefault("NFA_DATA_DIR", filepath.Join(root, "data")),
		Staging: getEnvOrDefault("NFA_STAGING_DIR", filepath.Join(root, "staging")),
		Out:     getEnvOrDefault("NFA_OUT_DIR", filepath.Join(root, "out")),
	}
}

// getEnvOrDefault returns the environment variable value or the default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// BaselineReportPath is where the boosted-tree report is written.
func (c *PathConfig) BaselineReportPath() string {
	return filepath.Join(c.Out, "baseline_lgbm_report.json")
}

// IntentReportPath is where the transformer classifier report is written.
func (c *PathConfig) IntentReportPath() string {
	return filepath.Join(c.Out, "llm_intent_report.json")
}

// CheckpointDir is the staging folder for fine-tuning checkpoints.
func (c *PathConfig) CheckpointDir() string {
	return filepath.Join(c.Staging, "llm_cls")
}

// ManifestDir is the staging folder for run manifests.
func (c *PathConfig) ManifestDir() string {
	return filepath.Join(c.Staging, "manifests")
}

// EnsureDirectories creates the staging and output directories if they
// don't exist. The data directory is input and is left alone.
func (c *PathConfig) EnsureDirectories() error {
	dirs := []string{
		c.Staging,
		c.Out,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	return nil
}

// Paths is resolved once at process start and treated as read-only.
var Paths = DefaultPathConfig()

// PathEnvVarsDoc documents the path environment variables for -h output.
const PathEnvVarsDoc = `
nfa-intent Path Configuration Environment Variables:

  NFA_PROJECT_ROOT  Root the default directories are resolved against
                    Default: current working directory

  NFA_DATA_DIR      Directory holding labelled CSV / Zeek JSON / pcap inputs
                    Default: <root>/data

  NFA_STAGING_DIR   Directory for manifests and fine-tuning checkpoints
                    Default: <root>/staging

  NFA_OUT_DIR       Directory for JSON reports
                    Default: <root>/out
`
