// Package config resolves the effective process configuration: built-in
// defaults, overridden by an optional TOML file, overridden last by
// environment variables. cmd/ember layers explicit CLI flags on top of
// this via cobra/pflag before the final merge.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/store"
)

// Config is the effective process configuration: the CLI surface spec.md
// §6 names, flattened into one struct.
type Config struct {
	ProviderBaseURL string `toml:"provider_base_url" json:"provider_base_url"`
	APIKey          string `toml:"api_key" json:"-"`

	BindAddr string `toml:"bind_addr" json:"bind_addr"`
	BindPort int    `toml:"bind_port" json:"bind_port"`

	DataDir string        `toml:"data_dir" json:"data_dir"`
	Backend store.Backend `toml:"backend" json:"backend"`

	Tools []string `toml:"tools" json:"tools"`
	Lang  string   `toml:"lang" json:"lang"`

	Default ember.LLMConfig `toml:"default_model" json:"default_model"`
}

// AllTools is the complete built-in tool-kind list; the comma-separated
// --tools flag intersects with this set.
var AllTools = []string{
	"curl_url",
	"image_zoom_in_tool",
	"image_draw_bbox_2d_tool",
	"ResourceInspector",
	"Image",
	"Asset",
	"execute_code",
}

// Default returns a Config with every field set to its built-in default.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return Config{
		ProviderBaseURL: "https://api.openai.com/v1",
		BindAddr:        "127.0.0.1",
		BindPort:        8080,
		DataDir:         filepath.Join(home, ".ember"),
		Backend:         store.BackendBolt,
		Tools:           append([]string(nil), AllTools...),
		Lang:            "auto",
		Default: ember.LLMConfig{
			Model: "gpt-4o-mini",
		},
	}
}

// Load resolves defaults -> TOML file (if path is non-empty and exists) ->
// environment variables, in that order; each layer only overrides fields
// it actually sets.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EMBER_PROVIDER_BASE_URL"); v != "" {
		cfg.ProviderBaseURL = v
	}
	if v := os.Getenv("EMBER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("EMBER_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("EMBER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EMBER_BACKEND"); v != "" {
		cfg.Backend = store.Backend(v)
	}
	if v := os.Getenv("EMBER_LANG"); v != "" {
		cfg.Lang = v
	}
}

// DumpJSON renders the effective config as indented JSON for --dump-config;
// APIKey is deliberately excluded via its json:"-" tag.
func (c Config) DumpJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
