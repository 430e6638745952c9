package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KnownProviders lists the provider IDs the gateway can route to.
var KnownProviders = []string{"openrouter", "ollama", "lmstudio", "gemini", "openai-compatible"}

// IsKnownProvider reports whether id is one of KnownProviders.
func IsKnownProvider(id string) bool {
	for _, p := range KnownProviders {
		if p == id {
			return true
		}
	}
	return false
}

// UpdateProviderField updates a single provider setting and saves the user
// config. API keys go to the credential store instead.
//
// Fields: "apikey", "enabled", "base_url", "model", "temperature", "top_p",
// "max_tokens", "timeout_seconds".
func UpdateProviderField(dataDir, providerID, fieldName, value string) error {
	if !IsKnownProvider(providerID) {
		return fmt.Errorf("unknown provider: %s", providerID)
	}

	if fieldName == "apikey" {
		store := NewCredentialStore()
		if err := store.Load(dataDir); err != nil {
			return fmt.Errorf("failed to load credentials: %w", err)
		}
		if err := store.Set(providerID, value); err != nil {
			return fmt.Errorf("failed to set API key: %w", err)
		}
		if err := store.Save(dataDir); err != nil {
			return fmt.Errorf("failed to persist credentials: %w", err)
		}
		return nil
	}

	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p := findOrAddProvider(cfg, providerID)
	switch fieldName {
	case "enabled":
		p.Enabled = value == "true"
	case "base_url":
		p.BaseURL = strings.TrimRight(value, "/")
	case "model":
		p.Model = value
	case "temperature", "top_p":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", fieldName, value, err)
		}
		if fieldName == "temperature" {
			p.Temperature = &f
		} else {
			p.TopP = &f
		}
	case "max_tokens", "timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s %q", fieldName, value)
		}
		if fieldName == "max_tokens" {
			p.MaxTokens = n
		} else {
			p.TimeoutSeconds = n
		}
	default:
		return fmt.Errorf("unknown field for %s: %s", providerID, fieldName)
	}

	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

func findOrAddProvider(cfg *UserConfig, providerID string) *ProviderConfig {
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == providerID {
			return &cfg.Providers[i]
		}
	}
	cfg.Providers = append(cfg.Providers, ProviderConfig{
		ID:      providerID,
		Name:    ProviderDisplayName(providerID),
		BaseURL: DefaultBaseURL(providerID),
	})
	return &cfg.Providers[len(cfg.Providers)-1]
}

// ProviderDisplayName returns the display name for a provider.
func ProviderDisplayName(providerID string) string {
	switch providerID {
	case "ollama":
		return "Ollama"
	case "openrouter":
		return "OpenRouter"
	case "lmstudio":
		return "LM Studio"
	case "gemini":
		return "Gemini"
	case "openai-compatible":
		return "OpenAI-compatible"
	default:
		return providerID
	}
}

// DefaultBaseURL returns the default endpoint for a provider. The generic
// OpenAI-compatible provider has none and must be configured.
func DefaultBaseURL(providerID string) string {
	switch providerID {
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "ollama":
		return "http://localhost:11434"
	case "lmstudio":
		return "http://localhost:1234/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/openai"
	default:
		return ""
	}
}
