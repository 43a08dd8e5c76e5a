package main

import (
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if !reflect.DeepEqual(cfg, DefaultConfig()) {
				t.Errorf("expected defaults, got %+v", cfg)
			}
			if _, err = os.Stat(path); err != nil {
				t.Fatalf("default config file was not written: %v", err)
			}

			// Reading the written file gives the same configuration back.
			again, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() on written defaults error = %v", err)
			}
			if !reflect.DeepEqual(again.Model, cfg.Model) || !reflect.DeepEqual(again.Server, cfg.Server) {
				t.Errorf("round trip changed the config: %+v", again)
			}
		})
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
model_config:
  order: 3
  max_length: 50
  temperature: 0.5
  normalize: NFC
models:
  - name: poems
    corpus_file: ./poems.txt
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Model.Order != 3 || cfg.Model.MaxLength != 50 || cfg.Model.Temperature != 0.5 || cfg.Model.Normalize != "NFC" {
		t.Errorf("unexpected model config %+v", cfg.Model)
	}
	if cfg.Server == nil || cfg.Server.ApiAddr != DefaultServerConfig().ApiAddr {
		t.Errorf("missing server_config should fall back to defaults, got %+v", cfg.Server)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].CorpusFile != "./poems.txt" {
		t.Errorf("unexpected models %+v", cfg.Models)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"Zero order", func(c *Config) { c.Model.Order = 0 }, "order"},
		{"Unbounded generation", func(c *Config) { c.Model.MaxLength = 0 }, "max_length"},
		{"Bad normalization", func(c *Config) { c.Model.Normalize = "NFX" }, "normalization"},
		{"Unnamed model", func(c *Config) { c.Models = []ModelSpec{{Corpus: "a"}} }, "name"},
		{"Duplicate model", func(c *Config) { c.Models = []ModelSpec{{Name: "a", Corpus: "a"}, {Name: "a", Corpus: "b"}} }, "twice"},
		{"No corpus", func(c *Config) { c.Models = []ModelSpec{{Name: "a"}} }, "exactly one"},
		{"Two corpora", func(c *Config) { c.Models = []ModelSpec{{Name: "a", Corpus: "a", CorpusFile: "b"}} }, "exactly one"},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("Validate() = %v, want an error mentioning %q", err, tc.errMsg)
			}
		})
	}
}

func TestConfigManagerUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := cm.Get()
	cfg.Model.TopK = 5
	if err = cm.Update(cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Model.TopK != 5 {
		t.Errorf("update was not persisted, top_k = %d", reloaded.Model.TopK)
	}

	// Get hands out copies.
	copied := cm.Get()
	copied.Model.TopK = 99
	if cm.Get().Model.TopK != 5 {
		t.Error("modifying a copy changed the live configuration")
	}

	cfg.Model.Order = 0
	if err = cm.Update(cfg); err == nil {
		t.Error("expected an invalid configuration to be rejected")
	}
	if cm.Get().Model.Order != 2 {
		t.Error("a rejected update changed the live configuration")
	}
}

func TestServerConfigAPI(t *testing.T) {
	env := setupTestServer(t)

	var cfg Config
	if code := env.do(t, http.MethodGet, "/api/server/config", nil, &cfg); code != http.StatusOK {
		t.Fatalf("GET config returned %d", code)
	}
	if cfg.Model.Seed != 42 {
		t.Errorf("unexpected live config %+v", cfg.Model)
	}

	cfg.Model.MaxLength = 10
	if code := env.do(t, http.MethodPut, "/api/server/config", cfg, &cfg); code != http.StatusOK {
		t.Fatalf("PUT config returned %d", code)
	}
	if env.cm.Get().Model.MaxLength != 10 {
		t.Error("config update was not applied")
	}

	cfg.Model.Order = 0
	if code := env.do(t, http.MethodPut, "/api/server/config", cfg, nil); code != http.StatusBadRequest {
		t.Errorf("invalid config returned %d, want %d", code, http.StatusBadRequest)
	}
}

func TestServerControlAPI(t *testing.T) {
	env := setupTestServer(t)

	var version VersionInfo
	if code := env.do(t, http.MethodGet, "/api/server/version", nil, &version); code != http.StatusOK || version.Version != Version {
		t.Errorf("version = %d %+v", code, version)
	}

	if code := env.do(t, http.MethodPost, "/api/server/restart", nil, nil); code != http.StatusAccepted {
		t.Fatalf("restart returned %d", code)
	}
	if action := <-env.actionChan; action != actionRestart {
		t.Errorf("expected %q on the action channel, got %q", actionRestart, action)
	}

	if code := env.do(t, http.MethodGet, "/api/server/shutdown", nil, nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET shutdown returned %d, want %d", code, http.StatusMethodNotAllowed)
	}
}
