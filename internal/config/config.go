// Package config loads the orchestrator's YAML configuration, the same
// default-then-override shape as the teacher's internal/config.Config
// (DefaultConfig + LoadConfig): sensible defaults first, a YAML file
// overlaid if present, never an error for a missing file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of knobs the orchestrator's components read.
type Config struct {
	// StorePath is the SQLite database path, or ":memory:".
	StorePath string `yaml:"store_path"`

	// PollInterval is how often the worker checks for runnable
	// subtasks when none is currently available.
	PollInterval time.Duration `yaml:"-"`
	PollSeconds  float64       `yaml:"poll_seconds"`

	// RunnerCmd is the shell command template invoked for each
	// attempt; supports {task_id} {routing} {prompt} {db_path}.
	RunnerCmd string `yaml:"runner_cmd"`

	// LogDir is where per-attempt runner output logs are written.
	LogDir string `yaml:"log_dir"`

	// LogLevel filters eventlog output: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxAttempts is the default attempt ceiling for newly enqueued
	// plans that don't specify their own.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxPromptChars bounds a subtask's prompt length during plan
	// validation.
	MaxPromptChars int `yaml:"max_prompt_chars"`
}

// Default returns the configuration used when no config file is given,
// matching spec defaults: a 1-second poll, ./logs, 3 attempts, a
// 20,000-character prompt ceiling, and a deliberately inert runner
// command the operator must override.
func Default() *Config {
	return &Config{
		StorePath:      "./taskloom.db",
		PollSeconds:    1.0,
		PollInterval:   time.Second,
		RunnerCmd:      `bash -lc 'echo "no runner configured for {task_id}"; exit 1'`,
		LogDir:         "./logs",
		LogLevel:       "info",
		MaxAttempts:    3,
		MaxPromptChars: 20_000,
	}
}

// Load reads path and overlays it onto Default(). A missing file is not
// an error - Load returns the defaults unchanged, mirroring the
// teacher's LoadConfig.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(cfg.PollSeconds * float64(time.Second))
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 20_000
	}

	return cfg, nil
}
