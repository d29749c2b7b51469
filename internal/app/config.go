package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Model      string `yaml:"model"`
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMAPIKey  string `yaml:"llm_api_key"`

	SearxURL  string `yaml:"searx_url"`
	WebfoxURL string `yaml:"webfox_url"`
	MemoryURL string `yaml:"memory_url"`
	RagURL    string `yaml:"rag_url"`

	BridgeTimeoutSecs    int `yaml:"bridge_timeout_secs"`
	BridgeMaxTimeoutSecs int `yaml:"bridge_max_timeout_secs"`
	MaxSteps             int `yaml:"max_steps"`

	VaultRoot string `yaml:"vault_root"`
}

func DefaultConfig() Config {
	vault := ""
	if home, err := os.UserHomeDir(); err == nil {
		vault = filepath.Join(home, "nova", "vault")
	}
	return Config{
		ListenAddr:           "127.0.0.1:56969",
		Model:                "llama3.1",
		LLMBaseURL:           "http://127.0.0.1:11434",
		SearxURL:             "http://127.0.0.1:8888",
		WebfoxURL:            "http://127.0.0.1:8070",
		MemoryURL:            "http://127.0.0.1:8061",
		RagURL:               "http://127.0.0.1:8062",
		BridgeTimeoutSecs:    3,
		BridgeMaxTimeoutSecs: 30,
		MaxSteps:             3,
		VaultRoot:            vault,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	def := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = def.LLMBaseURL
	}
	if cfg.SearxURL == "" {
		cfg.SearxURL = def.SearxURL
	}
	if cfg.WebfoxURL == "" {
		cfg.WebfoxURL = def.WebfoxURL
	}
	if cfg.MemoryURL == "" {
		cfg.MemoryURL = def.MemoryURL
	}
	if cfg.RagURL == "" {
		cfg.RagURL = def.RagURL
	}
	if cfg.BridgeTimeoutSecs <= 0 {
		cfg.BridgeTimeoutSecs = def.BridgeTimeoutSecs
	}
	if cfg.BridgeMaxTimeoutSecs <= 0 {
		cfg.BridgeMaxTimeoutSecs = def.BridgeMaxTimeoutSecs
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.VaultRoot == "" {
		cfg.VaultRoot = def.VaultRoot
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "novagent", "config.yml")
}

func (c Config) BridgeTimeout() time.Duration {
	return time.Duration(c.BridgeTimeoutSecs) * time.Second
}

func (c Config) BridgeMaxTimeout() time.Duration {
	return time.Duration(c.BridgeMaxTimeoutSecs) * time.Second
}
