package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Fatalf("expected 16 kHz default, got %d", cfg.Audio.TargetSampleRate)
	}
	if cfg.Oracle.Dimensions != 192 {
		t.Fatalf("expected 192 dimensions default, got %d", cfg.Oracle.Dimensions)
	}
	if cfg.Match.PersistFailurePolicy != "ignore" {
		t.Fatalf("expected ignore policy default, got %q", cfg.Match.PersistFailurePolicy)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxlock.yaml")
	data := []byte(`
audio:
  min_duration_s: 2.0
  max_duration_s: 8.0
oracle:
  mode: exec
  command: "extract-embedding --json"
match:
  search_threshold: 0.6
  persist_failure_policy: surface
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.MinDurationSec != 2.0 || cfg.Audio.MaxDurationSec != 8.0 {
		t.Fatalf("expected duration overrides, got %+v", cfg.Audio)
	}
	if cfg.Oracle.Mode != "exec" || cfg.Oracle.Command != "extract-embedding --json" {
		t.Fatalf("expected oracle overrides, got %+v", cfg.Oracle)
	}
	if cfg.Match.SearchThreshold != 0.6 {
		t.Fatalf("expected search threshold override, got %v", cfg.Match.SearchThreshold)
	}
	if cfg.Match.PersistFailurePolicy != "surface" {
		t.Fatalf("expected surface policy, got %q", cfg.Match.PersistFailurePolicy)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXLOCK_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXLOCK_BUS_EMBEDDED", "false")
	t.Setenv("VOXLOCK_AUDIO_MIN_ENERGY", "0.005")
	t.Setenv("VOXLOCK_ORACLE_MODE", "exec")
	t.Setenv("VOXLOCK_ORACLE_COMMAND", "embedder --quiet")
	t.Setenv("VOXLOCK_ORACLE_DIMENSIONS", "256")
	t.Setenv("VOXLOCK_LEDGER_PATH", "./tmp.db")
	t.Setenv("VOXLOCK_MATCH_MAX_SEARCH_LIMIT", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Audio.MinEnergy != 0.005 {
		t.Fatalf("expected energy override, got %v", cfg.Audio.MinEnergy)
	}
	if cfg.Oracle.Mode != "exec" || cfg.Oracle.Dimensions != 256 {
		t.Fatalf("expected oracle overrides, got %+v", cfg.Oracle)
	}
	if cfg.Ledger.Path != "./tmp.db" {
		t.Fatalf("expected ledger path override, got %q", cfg.Ledger.Path)
	}
	if cfg.Match.MaxSearchLimit != 25 {
		t.Fatalf("expected max search limit override, got %d", cfg.Match.MaxSearchLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero sample rate":    func(c *Config) { c.Audio.TargetSampleRate = 0 },
		"inverted durations":  func(c *Config) { c.Audio.MaxDurationSec = 0.5 },
		"unknown oracle mode": func(c *Config) { c.Oracle.Mode = "grpc" },
		"exec without cmd":    func(c *Config) { c.Oracle.Mode = "exec"; c.Oracle.Command = "" },
		"threshold above one": func(c *Config) { c.Match.SearchThreshold = 1.5 },
		"unknown policy":      func(c *Config) { c.Match.PersistFailurePolicy = "retry" },
		"empty ledger path":   func(c *Config) { c.Ledger.Path = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
