// Package provider routes chat completions to LLM backends and normalizes
// their responses into the canonical envelope.
//
// OpenRouter, LM Studio, Gemini and generic OpenAI-compatible servers share
// the OpenAI adapter; Ollama has its own. The gateway never retries; callers
// wrap Call with a retry.Controller.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"rhythm/config"
	apperrors "rhythm/errors"
	"rhythm/logging"
	"rhythm/model"
)

// ProgressFunc receives streamed content deltas.
type ProgressFunc func(delta string)

// Request is a single completion request handed to an adapter.
type Request struct {
	Config     Config
	APIKey     string
	Messages   []model.Message
	Tools      []mcptypes.Tool
	OnProgress ProgressFunc
}

// Adapter talks to one family of backends.
type Adapter interface {
	Complete(ctx context.Context, req Request) (*model.Envelope, error)
}

// KeySource supplies API keys by provider name. *config.Config implements it.
type KeySource interface {
	APIKey(provider string) string
}

type noKeys struct{}

func (noKeys) APIKey(string) string { return "" }

// Gateway dispatches requests to adapters and probes provider health.
type Gateway struct {
	adapters   map[string]Adapter
	settings   map[string]config.ProviderConfig
	keys       KeySource
	httpClient *http.Client
	log        *logging.Logger
	newID      func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSettings sets the provider settings used for probes.
func WithSettings(s map[string]config.ProviderConfig) Option {
	return func(g *Gateway) { g.settings = s }
}

// WithKeys sets the API key source used for probes.
func WithKeys(k KeySource) Option {
	return func(g *Gateway) {
		if k != nil {
			g.keys = k
		}
	}
}

// WithHTTPClient sets the HTTP client shared by adapters and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithAdapter overrides the adapter for one provider.
func WithAdapter(provider string, a Adapter) Option {
	return func(g *Gateway) { g.adapters[provider] = a }
}

func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a gateway with the built-in adapters.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		adapters:   make(map[string]Adapter),
		keys:       noKeys{},
		httpClient: http.DefaultClient,
		newID:      func() string { return "call_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = logging.OrNop(g.log).Named("provider")

	oa := &openAIAdapter{httpClient: g.httpClient}
	for _, name := range []string{OpenRouter, LMStudio, Gemini, OpenAICompatible} {
		if _, ok := g.adapters[name]; !ok {
			g.adapters[name] = oa
		}
	}
	if _, ok := g.adapters[Ollama]; !ok {
		g.adapters[Ollama] = &ollamaAdapter{httpClient: g.httpClient, newID: g.newID}
	}

	return g
}

// BuildConfig builds the request config for provider from the gateway's
// settings.
func (g *Gateway) BuildConfig(provider string, base Config) Config {
	return BuildConfig(provider, g.settings, base)
}

// Call sends one completion request and returns the canonical envelope. The
// call is bounded by cfg.Timeout. Errors are normalized; a response without
// a choices array is a malformed-response error.
func (g *Gateway) Call(ctx context.Context, cfg Config, apiKey string, msgs []model.Message, tools []mcptypes.Tool, onProgress ProgressFunc) (*model.Envelope, error) {
	name := ResolveName(cfg.Provider)
	adapter, ok := g.adapters[name]
	if !ok {
		return nil, apperrors.NewBuilder(apperrors.KindUnknown, apperrors.CodeProviderUnsupported,
			fmt.Sprintf("no adapter for provider %q", name)).
			Recoverable(false).WithProvider(name).Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = CloudTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	g.log.Debugw("calling provider",
		"provider", name,
		"model", cfg.Model,
		"messages", len(msgs),
		"tools", len(tools),
	)

	env, err := adapter.Complete(callCtx, Request{
		Config:     cfg,
		APIKey:     apiKey,
		Messages:   msgs,
		Tools:      tools,
		OnProgress: onProgress,
	})
	if err != nil {
		nerr := NormalizeError(err, name)
		g.log.Debugw("provider call failed",
			"provider", name,
			"kind", nerr.Kind,
			"status", nerr.StatusCode,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, nerr
	}

	if !env.Valid() {
		return nil, apperrors.NewBuilder(apperrors.KindMalformed, apperrors.CodeProviderMalformed,
			fmt.Sprintf("%s response has no choices", config.ProviderDisplayName(name))).
			WithProvider(name).
			WithSuggestion("Try again or switch to a different model").
			Build()
	}

	g.ensureToolCallIDs(env)

	g.log.Debugw("provider call finished",
		"provider", name,
		"choices", len(env.Choices),
		"elapsed", time.Since(start),
	)
	return env, nil
}

// ensureToolCallIDs assigns IDs to tool calls that arrived without one so
// every tool result can be paired.
func (g *Gateway) ensureToolCallIDs(env *model.Envelope) {
	for i := range env.Choices {
		calls := env.Choices[i].Message.ToolCalls
		for j := range calls {
			if calls[j].ID == "" {
				calls[j].ID = g.newID()
			}
		}
	}
}
