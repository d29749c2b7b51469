package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	def := DefaultConfig()
	if cfg.ListenAddr != def.ListenAddr || cfg.MaxSteps != def.MaxSteps {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := "model: qwen2.5\nmax_steps: 5\nsearx_url: http://10.0.0.5:8888\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Model != "qwen2.5" {
		t.Errorf("model not applied: %q", cfg.Model)
	}
	if cfg.MaxSteps != 5 {
		t.Errorf("max_steps not applied: %d", cfg.MaxSteps)
	}
	if cfg.SearxURL != "http://10.0.0.5:8888" {
		t.Errorf("searx_url not applied: %q", cfg.SearxURL)
	}
	def := DefaultConfig()
	if cfg.ListenAddr != def.ListenAddr {
		t.Errorf("unset listen_addr should fall back, got %q", cfg.ListenAddr)
	}
	if cfg.BridgeTimeoutSecs != def.BridgeTimeoutSecs {
		t.Errorf("unset bridge timeout should fall back, got %d", cfg.BridgeTimeoutSecs)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "config.yml")
	cfg := DefaultConfig()
	cfg.Model = "llama3.2"
	cfg.BridgeTimeoutSecs = 7

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig returned error: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if loaded.Model != "llama3.2" || loaded.BridgeTimeoutSecs != 7 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestBridgeTimeoutHelpers(t *testing.T) {
	cfg := Config{BridgeTimeoutSecs: 3, BridgeMaxTimeoutSecs: 30}
	if cfg.BridgeTimeout() != 3*time.Second {
		t.Errorf("BridgeTimeout = %v", cfg.BridgeTimeout())
	}
	if cfg.BridgeMaxTimeout() != 30*time.Second {
		t.Errorf("BridgeMaxTimeout = %v", cfg.BridgeMaxTimeout())
	}
}
