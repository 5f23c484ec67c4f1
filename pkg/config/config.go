// Package config loads the coordinator's runtime configuration: an
// optional YAML file overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend selects the spawn mechanism for a teammate.
type Backend string

const (
	BackendTerminal Backend = "terminal"
	BackendDesktop  Backend = "desktop"
)

// Config is the coordinator's runtime configuration.
type Config struct {
	RootDir           string  `yaml:"root_dir"`
	Backend           Backend `yaml:"backend"`
	UseTmuxWindows    bool    `yaml:"use_tmux_windows"`
	DesktopBinaryPath string  `yaml:"desktop_binary_path"`
	LogLevel          string  `yaml:"log_level"`
	LogFormat         string  `yaml:"log_format"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		RootDir:   filepath.Join(home, ".opencode-teams"),
		Backend:   BackendTerminal,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated values. A config file at
// $XDG_CONFIG_HOME/opencode-teams/config.yaml (or ~/.config/opencode-teams
// /config.yaml) is read first if present; recognized environment
// variables then override it. Unrecognized variables are ignored.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	path := configPathWithEnv(getenv)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := getenv("OPENCODE_TEAMS_ROOT"); v != "" {
		cfg.RootDir = v
	}
	if v := getenv("OPENCODE_TEAMS_BACKEND"); v == string(BackendTerminal) || v == string(BackendDesktop) {
		cfg.Backend = Backend(v)
	}
	if v := getenv("USE_TMUX_WINDOWS"); v != "" {
		cfg.UseTmuxWindows = isTruthy(v)
	}
	if v := getenv("OPENCODE_TEAMS_DESKTOP_BINARY"); v != "" {
		cfg.DesktopBinaryPath = v
	}
	if v := getenv("OPENCODE_TEAMS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("OPENCODE_TEAMS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}

func configPathWithEnv(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opencode-teams", "config.yaml")
	}
	home := getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".config", "opencode-teams", "config.yaml")
}
