package config

import (
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadWithEnvDefaults(t *testing.T) {
	cfg, err := LoadWithEnv(envMap(map[string]string{"HOME": t.TempDir()}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Backend != BackendTerminal {
		t.Errorf("expected default backend terminal, got %s", cfg.Backend)
	}
}

func TestLoadWithEnvOverridesBackend(t *testing.T) {
	cfg, err := LoadWithEnv(envMap(map[string]string{
		"OPENCODE_TEAMS_BACKEND": "desktop",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Backend != BackendDesktop {
		t.Errorf("expected backend desktop, got %s", cfg.Backend)
	}
}

func TestLoadWithEnvIgnoresUnrecognizedBackend(t *testing.T) {
	cfg, err := LoadWithEnv(envMap(map[string]string{
		"OPENCODE_TEAMS_BACKEND": "carrier-pigeon",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Backend != BackendTerminal {
		t.Errorf("expected fallback to default backend, got %s", cfg.Backend)
	}
}

func TestLoadWithEnvReadsConfigFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "opencode-teams")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	yamlContent := "root_dir: /from/file\nbackend: desktop\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithEnv(envMap(map[string]string{
		"XDG_CONFIG_HOME": dir,
		"OPENCODE_TEAMS_BACKEND": "terminal",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.RootDir != "/from/file" {
		t.Errorf("expected RootDir from file, got %s", cfg.RootDir)
	}
	if cfg.Backend != BackendTerminal {
		t.Errorf("expected env override to win, got %s", cfg.Backend)
	}
}

func TestUseTmuxWindowsTruthy(t *testing.T) {
	cfg, err := LoadWithEnv(envMap(map[string]string{"USE_TMUX_WINDOWS": "true"}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if !cfg.UseTmuxWindows {
		t.Error("expected UseTmuxWindows to be true")
	}
}
