package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ProviderConfig is one [[providers]] entry of the user config.
type ProviderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model,omitempty"`

	// Sampling overrides; nil means "use the gateway default"
	Temperature *float64 `toml:"temperature,omitempty"`
	TopP        *float64 `toml:"top_p,omitempty"`

	MaxTokens      int `toml:"max_tokens,omitempty"`
	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`
}

type ChatConfig struct {
	MaxToolCallsPerTurn int      `toml:"max_tool_calls_per_turn"`
	ToolTimeoutSeconds  int      `toml:"tool_timeout_seconds"`
	HistoryWindow       int      `toml:"history_window"`
	StreamsFile         string   `toml:"streams_file"`
	Capabilities        []string `toml:"capabilities"`
}

type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StorageConfig struct {
	Driver string `toml:"driver"`
}

type UserConfig struct {
	DefaultProvider string           `toml:"default_provider"`
	Providers       []ProviderConfig `toml:"providers"`
	Chat            ChatConfig       `toml:"chat"`
	Retry           RetryConfig      `toml:"retry"`
	Log             LogConfig        `toml:"log"`
	Storage         StorageConfig    `toml:"storage"`
}

// Config is the merged runtime configuration.
type Config struct {
	DataDirectory   string
	DefaultProvider string

	// ModelOverride replaces the default provider's model when set (RHYTHM_MODEL)
	ModelOverride string

	Providers []ProviderConfig
	Chat      ChatConfig
	Retry     RetryConfig
	Log       LogConfig
	Storage   StorageConfig

	CredentialStore *CredentialStore
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Provider returns the settings for id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ProviderMap indexes provider settings by ID, applying ModelOverride to the
// default provider.
func (c *Config) ProviderMap() map[string]ProviderConfig {
	out := make(map[string]ProviderConfig, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == c.DefaultProvider && c.ModelOverride != "" {
			p.Model = c.ModelOverride
		}
		out[p.ID] = p
	}
	return out
}

// APIKey returns the stored credential for a provider, or "".
func (c *Config) APIKey(providerID string) string {
	if c.CredentialStore == nil {
		return ""
	}
	return c.CredentialStore.Get(providerID)
}

// ToolTimeout returns the per-tool execution budget.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Chat.ToolTimeoutSeconds) * time.Second
}

// applyEnvOverrides applies everything but RHYTHM_DATA_DIR, which Load
// resolves before the user config is read.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("RHYTHM_PROVIDER"); p != "" {
		c.DefaultProvider = strings.ToLower(p)
	}
	if m := os.Getenv("RHYTHM_MODEL"); m != "" {
		c.ModelOverride = m
	}
	if level := os.Getenv("RHYTHM_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) applyUserConfig(u *UserConfig) {
	c.DefaultProvider = u.DefaultProvider
	c.Providers = u.Providers
	c.Chat = u.Chat
	c.Retry = u.Retry
	c.Log = u.Log
	c.Storage = u.Storage
	c.fillDefaults()
}

// fillDefaults repairs zero values left by hand-edited config files.
func (c *Config) fillDefaults() {
	d := DefaultUserConfig()
	if c.DefaultProvider == "" {
		c.DefaultProvider = d.DefaultProvider
	}
	if c.Chat.MaxToolCallsPerTurn <= 0 {
		c.Chat.MaxToolCallsPerTurn = d.Chat.MaxToolCallsPerTurn
	}
	if c.Chat.ToolTimeoutSeconds <= 0 {
		c.Chat.ToolTimeoutSeconds = d.Chat.ToolTimeoutSeconds
	}
	if c.Chat.HistoryWindow <= 0 {
		c.Chat.HistoryWindow = d.Chat.HistoryWindow
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = d.Retry.BaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = d.Retry.MaxDelayMs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
}

// Load reads settings.toml, then <data_dir>/config.toml and the credential
// file, and finally applies RHYTHM_* environment overrides.
func Load() (*Config, error) {
	cfg := &Config{DataDirectory: DefaultSystemConfig().DataDirectory}

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	if systemCfg.DataDirectory != "" {
		cfg.DataDirectory = systemCfg.DataDirectory
	}
	if dataDir := os.Getenv("RHYTHM_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	return loadFromDataDir(cfg)
}

// LoadFromDir loads configuration rooted at dataDir, skipping settings.toml.
func LoadFromDir(dataDir string) (*Config, error) {
	return loadFromDataDir(&Config{DataDirectory: dataDir})
}

func loadFromDataDir(cfg *Config) (*Config, error) {
	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	cfg.CredentialStore = NewCredentialStore()
	if err := cfg.CredentialStore.Load(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	return cfg, nil
}
