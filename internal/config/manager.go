// Package config manages the persistent user configuration and runtime
// settings for the orchestrator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	LLMProvider   string `json:"llm_provider,omitempty"`   // openai, anthropic, etc.
	APIKey        string `json:"api_key,omitempty"`        // API key for the selected provider
	Model         string `json:"model,omitempty"`          // Default model name
	BaseURL       string `json:"base_url,omitempty"`       // Optional API base URL override
	DocsDir       string `json:"docs_dir,omitempty"`       // Local document corpus root
	PaperDir      string `json:"paper_dir,omitempty"`      // Where downloaded papers land
	MaxIterations int    `json:"max_iterations,omitempty"` // Agentic loop step budget
	MaxReplans    int    `json:"max_replans,omitempty"`    // Agentic loop replan budget
	WatchDocs     bool   `json:"watch_docs"`               // Auto-ingest document changes
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{configDir: filepath.Join(configDir, "phidelta")}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// DataDir returns the directory holding the session database and indexes.
func (m *Manager) DataDir() string {
	return m.configDir
}

// Load reads the configuration from disk, then applies environment
// overrides. A missing file yields the defaults.
func (m *Manager) Load() (*Config, error) {
	cfg := &Config{}

	path := m.GetConfigPath()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults(m.configDir)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("PHIDELTA_DOCS_DIR"); v != "" {
		cfg.DocsDir = v
	}
	if v := os.Getenv("PHIDELTA_PAPER_DIR"); v != "" {
		cfg.PaperDir = v
	}
	if v := os.Getenv("PHIDELTA_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("PHIDELTA_MAX_REPLANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxReplans = n
		}
	}
	if v := os.Getenv("PHIDELTA_WATCH_DOCS"); v != "" {
		cfg.WatchDocs = v == "1" || v == "true"
	}
}

func (c *Config) applyDefaults(configDir string) {
	if c.DocsDir == "" {
		c.DocsDir = filepath.Join(configDir, "docs")
	}
	if c.PaperDir == "" {
		c.PaperDir = filepath.Join(c.DocsDir, "papers")
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 24
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = 6
	}
}

// Save writes the configuration to disk with restricted permissions.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may contain an API key.
	if err := os.WriteFile(m.GetConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
