package provider

import (
	"maps"
	"net"
	"net/url"
	"strings"
	"time"

	"rhythm/config"
)

// Recognized provider names.
const (
	OpenRouter       = "openrouter"
	Ollama           = "ollama"
	LMStudio         = "lmstudio"
	Gemini           = "gemini"
	OpenAICompatible = "openai-compatible"
)

// Privacy levels surfaced to the UI.
const (
	PrivacyHigh   = "high"   // data never leaves the machine or LAN
	PrivacyMedium = "medium" // data is sent to a third-party API
)

const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9

	CloudTimeout = 60 * time.Second
	LocalTimeout = 90 * time.Second

	LocalMaxTokens = 2000
)

// Config is the resolved request configuration for one turn. It is built by
// BuildConfig and treated as immutable afterwards.
type Config struct {
	Provider     string
	Endpoint     string
	Model        string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Timeout      time.Duration
	IsLocal      bool
	PrivacyLevel string

	// Headers are extra HTTP headers sent with every request
	Headers map[string]string
}

// ResolveName normalizes a provider name. Unknown names resolve to OpenRouter.
func ResolveName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if config.IsKnownProvider(name) {
		return name
	}
	return OpenRouter
}

// BuildConfig materializes the request config for provider from user
// settings, falling back to base and then to built-in defaults. It is pure:
// neither settings nor base is modified and equal inputs give equal outputs.
func BuildConfig(provider string, settings map[string]config.ProviderConfig, base Config) Config {
	name := ResolveName(provider)
	s := settings[name]

	cfg := Config{
		Provider: name,
		Endpoint: firstNonEmpty(s.BaseURL, base.Endpoint, config.DefaultBaseURL(name)),
		Model:    firstNonEmpty(s.Model, base.Model, defaultModel(name)),
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	cfg.IsLocal = IsLocalEndpoint(cfg.Endpoint)
	cfg.PrivacyLevel = PrivacyMedium
	if cfg.IsLocal {
		cfg.PrivacyLevel = PrivacyHigh
	}

	switch {
	case s.Temperature != nil:
		cfg.Temperature = *s.Temperature
	case settings[OpenRouter].Temperature != nil:
		cfg.Temperature = *settings[OpenRouter].Temperature
	case base.Temperature > 0:
		cfg.Temperature = base.Temperature
	default:
		cfg.Temperature = DefaultTemperature
	}

	switch {
	case s.TopP != nil:
		cfg.TopP = *s.TopP
	case base.TopP > 0:
		cfg.TopP = base.TopP
	default:
		cfg.TopP = DefaultTopP
	}

	switch {
	case s.MaxTokens > 0:
		cfg.MaxTokens = s.MaxTokens
	case base.MaxTokens > 0:
		cfg.MaxTokens = base.MaxTokens
	default:
		cfg.MaxTokens = defaultMaxTokens(name, cfg.IsLocal)
	}

	switch {
	case s.TimeoutSeconds > 0:
		cfg.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	case base.Timeout > 0:
		cfg.Timeout = base.Timeout
	case cfg.IsLocal:
		cfg.Timeout = LocalTimeout
	default:
		cfg.Timeout = CloudTimeout
	}

	cfg.Headers = maps.Clone(base.Headers)
	if name == OpenRouter {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, 2)
		}
		if _, ok := cfg.Headers["HTTP-Referer"]; !ok {
			cfg.Headers["HTTP-Referer"] = "http://localhost"
		}
		if _, ok := cfg.Headers["X-Title"]; !ok {
			cfg.Headers["X-Title"] = "Rhythm"
		}
	}

	return cfg
}

func defaultModel(name string) string {
	for _, p := range config.DefaultUserConfig().Providers {
		if p.ID == name {
			return p.Model
		}
	}
	return ""
}

func defaultMaxTokens(name string, local bool) int {
	if local {
		return LocalMaxTokens
	}
	switch name {
	case OpenRouter:
		return 4500
	case Gemini:
		return 8192
	case OpenAICompatible:
		return 4000
	default:
		return LocalMaxTokens
	}
}

// IsLocalEndpoint reports whether endpoint addresses loopback or local
// network infrastructure.
func IsLocalEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || host == "host.docker.internal" {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
