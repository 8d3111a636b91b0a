// Package config loads factgraph's own YAML-backed settings: logging
// verbosity (consumed directly by internal/logging) and the evaluator's
// depth/timeout budget (§5). Grounded on the teacher's internal/config
// pattern of one small typed struct per concern assembled under a single
// root Config, read with gopkg.in/yaml.v3. No other package in this module
// calls Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig mirrors the "logging" section internal/logging itself
// parses from the same file.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// EvaluatorConfig holds an evaluation budget (§5 Timeouts): MaxDepth for
// match-chain and existential nesting, Timeout for wall-clock time. These
// values are not passed to pkg/eval by any code in this module; an Evaluator
// takes its depth limit from its own MaxDepth field and its time limit from
// the context given to Read.
type EvaluatorConfig struct {
	MaxDepth int           `yaml:"max_depth"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the root of .factgraph/config.yaml.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

// Default returns the configuration a fresh workspace runs with when no
// config.yaml is present.
func Default() *Config {
	return &Config{
		Evaluator: EvaluatorConfig{MaxDepth: 64, Timeout: 30 * time.Second},
	}
}

// Path returns the config file path for a workspace root.
func Path(workspace string) string {
	return filepath.Join(workspace, ".factgraph", "config.yaml")
}

// Load reads .factgraph/config.yaml under workspace, falling back to
// Default() if the file does not exist. A present-but-malformed file is an
// error: unlike a missing file (a fresh workspace), an unreadable one
// signals a user mistake worth surfacing immediately.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("factgraph: reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("factgraph: parsing config: %w", err)
	}
	if cfg.Evaluator.MaxDepth <= 0 {
		cfg.Evaluator.MaxDepth = 64
	}
	if cfg.Evaluator.Timeout <= 0 {
		cfg.Evaluator.Timeout = 30 * time.Second
	}
	return cfg, nil
}
