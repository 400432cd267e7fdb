package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/emberhq/ember/store"
)

func TestDefaultFillsEveryField(t *testing.T) {
	cfg := Default()
	if cfg.ProviderBaseURL == "" || cfg.BindAddr == "" || cfg.DataDir == "" {
		t.Fatalf("Default left required fields empty: %+v", cfg)
	}
	if cfg.Backend != store.BackendBolt {
		t.Errorf("Backend = %q, want %q", cfg.Backend, store.BackendBolt)
	}
	if len(cfg.Tools) != len(AllTools) {
		t.Errorf("Tools = %v, want all of %v", cfg.Tools, AllTools)
	}
}

func TestLoadAppliesTOMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ember.toml")
	body := `
bind_port = 9090
backend = "badger"
lang = "chinese"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindPort != 9090 {
		t.Errorf("BindPort = %d, want 9090", cfg.BindPort)
	}
	if cfg.Backend != store.BackendBadger {
		t.Errorf("Backend = %q, want badger", cfg.Backend)
	}
	if cfg.Lang != "chinese" {
		t.Errorf("Lang = %q, want chinese", cfg.Lang)
	}
	// Fields the TOML didn't set keep their defaults.
	if cfg.BindAddr != Default().BindAddr {
		t.Errorf("BindAddr = %q, want default preserved", cfg.BindAddr)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindPort != Default().BindPort {
		t.Errorf("expected defaults when config file is absent, got %+v", cfg)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	t.Setenv("EMBER_BIND_ADDR", "0.0.0.0")
	t.Setenv("EMBER_LANG", "japanese")

	path := filepath.Join(t.TempDir(), "ember.toml")
	body := `
bind_addr = "10.0.0.1"
lang = "korean"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0" {
		t.Errorf("BindAddr = %q, want env override", cfg.BindAddr)
	}
	if cfg.Lang != "japanese" {
		t.Errorf("Lang = %q, want env override", cfg.Lang)
	}
}

func TestDumpJSONOmitsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "super-secret"

	data, err := cfg.DumpJSON()
	if err != nil {
		t.Fatalf("DumpJSON: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal dump: %v", err)
	}
	if _, present := decoded["api_key"]; present {
		t.Errorf("dumped config leaks api_key: %s", data)
	}
}
