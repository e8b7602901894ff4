package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Pool.MinWarm != 3 {
		t.Errorf("pool.min_warm = %d, want 3", cfg.Pool.MinWarm)
	}
	if cfg.Pool.MaxSlots != 20 {
		t.Errorf("pool.max_slots = %d, want 20", cfg.Pool.MaxSlots)
	}
	if cfg.Scheduler.BackoffPolicy != "default" {
		t.Errorf("scheduler.backoff_policy = %q, want default", cfg.Scheduler.BackoffPolicy)
	}
	if cfg.PAL.DecisionMode != "STANDARD" {
		t.Errorf("pal.decision_mode = %q, want STANDARD", cfg.PAL.DecisionMode)
	}
}

func TestLoadValidatesPoolSizing(t *testing.T) {
	path := writeConfig(t, `
pool:
  min_warm: 50
  max_slots: 10
`)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "min_warm") {
		t.Fatalf("expected min_warm error, got %v", err)
	}
}

func TestLoadValidatesBackoffPolicy(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  backoff_policy: exotic
`)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "backoff_policy") {
		t.Fatalf("expected backoff_policy error, got %v", err)
	}
}

func TestLoadValidatesRequestInterception(t *testing.T) {
	path := writeConfig(t, `
bcl:
  request_interception: everything
`)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "request_interception") {
		t.Fatalf("expected request_interception error, got %v", err)
	}
}

func TestLoadEnvOverridesLogLevel(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	t.Setenv("GHOST_FLEET_LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadEnvOverridesBCLAndPool(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	t.Setenv("GHOST_REMOTE_DEBUGGING_PORT", "9222")
	t.Setenv("GHOST_CONTEXT_COUNT", "12")
	t.Setenv("GHOST_CONTEXT_AUTO_REPLENISH", "false")
	t.Setenv("GHOST_HEADFUL", "true")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.BCL.RemoteDebuggingPort != 9222 {
		t.Errorf("bcl.remote_debugging_port = %d, want 9222", cfg.BCL.RemoteDebuggingPort)
	}
	if cfg.Pool.MaxSlots != 12 {
		t.Errorf("pool.max_slots = %d, want 12", cfg.Pool.MaxSlots)
	}
	if !cfg.Pool.DisableAutoReplenish {
		t.Error("GHOST_CONTEXT_AUTO_REPLENISH=false should set DisableAutoReplenish")
	}
	if !cfg.BCL.Headful {
		t.Error("GHOST_HEADFUL=true should set Headful")
	}
}

func TestLoadDefaultsRemoteDebuggingPortAndAutoReplenish(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.BCL.RemoteDebuggingPort != defaultRemoteDebuggingPort {
		t.Errorf("bcl.remote_debugging_port = %d, want default %d", cfg.BCL.RemoteDebuggingPort, defaultRemoteDebuggingPort)
	}
	if cfg.Pool.DisableAutoReplenish {
		t.Error("auto-replenish should default to enabled")
	}
}

func TestLoadResolvesInclude(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("pool:\n  max_slots: 15\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nserver:\n  host: 0.0.0.0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.MaxSlots != 15 {
		t.Errorf("pool.max_slots = %d, want 15 (from included file)", cfg.Pool.MaxSlots)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ghost-fleet.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
