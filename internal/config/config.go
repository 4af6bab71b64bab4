// Package config loads and validates covrun configuration.
//
// Settings are merged from four layers, lowest precedence first:
// built-in defaults, a covrun.yaml/covrun.yml file (searched upward
// from the working directory), COVRUN_* environment variables, and
// command-line flags applied by the caller.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultProfile is the coverage profile written by the test run.
	DefaultProfile = "coverage.out"
	// DefaultHTML is the report artifact written on success.
	DefaultHTML = "coverage.html"
	// DefaultMode is the coverage mode passed to the test command.
	DefaultMode = "atomic"
	// DefaultHistoryPath is the embedded run-history store.
	DefaultHistoryPath = ".covrun/history.db"

	// maxUpwardSearchLevels limits how far up the directory tree the
	// config file search goes.
	maxUpwardSearchLevels = 10
)

type RunnerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Dir     string   `koanf:"dir"`
	Timeout int      `koanf:"timeout"`
}

type CoverageConfig struct {
	Profile   string  `koanf:"profile"`
	Mode      string  `koanf:"mode"`
	HTML      string  `koanf:"html"`
	Threshold float64 `koanf:"threshold"`
}

type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
	Limit   int    `koanf:"limit"`
}

type WatchConfig struct {
	Paths      []string `koanf:"paths"`
	Extensions []string `koanf:"extensions"`
	Debounce   int      `koanf:"debounce"`
}

type Config struct {
	Runner   RunnerConfig   `koanf:"runner"`
	Coverage CoverageConfig `koanf:"coverage"`
	History  HistoryConfig  `koanf:"history"`
	Watch    WatchConfig    `koanf:"watch"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"runner.command":   "go",
		"runner.args":      []string{"test", "./..."},
		"runner.dir":       "",
		"runner.timeout":   0,
		"coverage.profile": DefaultProfile,
		"coverage.mode":    DefaultMode,
		"coverage.html":    DefaultHTML,
		"history.enabled":  true,
		"history.path":     DefaultHistoryPath,
		"history.limit":    20,
		"watch.paths":      []string{"."},
		"watch.extensions": []string{".go"},
		"watch.debounce":   400,
	}
}

// FindConfigFile returns the config file to use: the explicit path if
// given, otherwise the first covrun.yaml/covrun.yml found walking up
// from startDir. Empty string means no config file.
func FindConfigFile(explicit, startDir string) string {
	if explicit != "" {
		return explicit
	}
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range []string{"covrun.yaml", "covrun.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// Load builds a Config from defaults, the config file, and COVRUN_*
// environment variables. Flag overrides are applied by the caller on
// the returned struct, followed by Validate.
func Load(explicitFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfgFile := FindConfigFile(explicitFile, cwd)
	if explicitFile != "" {
		if _, err := os.Stat(explicitFile); err != nil {
			return nil, fmt.Errorf("config file %s not found: %w", explicitFile, err)
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// COVRUN_RUNNER_COMMAND -> runner.command
	if err := k.Load(env.Provider("COVRUN_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "COVRUN_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks invariants that hold regardless of which layer a
// value came from.
func (c *Config) Validate() error {
	if c.Runner.Command == "" {
		return fmt.Errorf("runner.command is required")
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("runner.timeout must not be negative")
	}
	switch c.Coverage.Mode {
	case "set", "count", "atomic":
	default:
		return fmt.Errorf("coverage.mode must be one of set, count, atomic; got %q", c.Coverage.Mode)
	}
	if c.Coverage.Threshold < 0 || c.Coverage.Threshold > 100 {
		return fmt.Errorf("coverage.threshold must be between 0 and 100; got %v", c.Coverage.Threshold)
	}
	if c.Coverage.Profile == "" {
		return fmt.Errorf("coverage.profile is required")
	}
	if c.Coverage.HTML == "" {
		return fmt.Errorf("coverage.html is required")
	}
	if c.History.Enabled {
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required when history is enabled")
		}
		if c.History.Limit <= 0 {
			return fmt.Errorf("history.limit must be positive")
		}
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive")
	}
	return nil
}

// ResolveRunner locates the test-runner binary. A command containing a
// path separator must exist at that path; a bare name is looked up on
// PATH. The run aborts before any test execution if the binary is
// missing.
func (c *Config) ResolveRunner() (string, error) {
	cmd := c.Runner.Command
	if strings.ContainsRune(cmd, os.PathSeparator) {
		abs, err := filepath.Abs(cmd)
		if err != nil {
			return "", fmt.Errorf("invalid runner command %q: %w", cmd, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("runner command %q not found: %w", cmd, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("runner command %q is a directory", cmd)
		}
		return abs, nil
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return "", fmt.Errorf("runner command %q not found in PATH: %w", cmd, err)
	}
	return path, nil
}
