package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rhythm/config"
)

// Status is the outcome of a health probe.
type Status string

const (
	StatusReady           Status = "ready"
	StatusNoKey           Status = "no_key"
	StatusInvalidKey      Status = "invalid_key"
	StatusNotRunning      Status = "not_running"
	StatusRunningNoModels Status = "running_no_models"
	StatusTimeout         Status = "timeout"
	StatusParseError      Status = "parse_error"
	StatusNotConfigured   Status = "not_configured"
	StatusError           Status = "error"
)

const (
	HealthTimeout     = 5 * time.Second
	LocalProbeTimeout = 5 * time.Second
	CloudProbeTimeout = 3 * time.Second
)

// HealthStatus describes one provider's availability.
type HealthStatus struct {
	Available bool     `json:"available"`
	Status    Status   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Models    []string `json:"models"`
	LatencyMs int64    `json:"latencyMs"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// IsAvailable reports whether provider can serve a request right now. Local
// providers get a 5s models probe; cloud providers need a key and a
// successful 3s authenticated probe.
func (g *Gateway) IsAvailable(ctx context.Context, provider string) bool {
	cfg := g.BuildConfig(provider, Config{})
	timeout := CloudProbeTimeout
	if cfg.IsLocal {
		timeout = LocalProbeTimeout
	}
	return g.probe(ctx, cfg, timeout).Available
}

// GetAvailableProviders probes every enabled provider in parallel and returns
// the available ones in KnownProviders order.
func (g *Gateway) GetAvailableProviders(ctx context.Context) []string {
	names := g.enabledProviders()
	ok := make([]bool, len(names))

	var eg errgroup.Group
	for i, name := range names {
		eg.Go(func() error {
			ok[i] = g.IsAvailable(ctx, name)
			return nil
		})
	}
	_ = eg.Wait()

	var out []string
	for i, name := range names {
		if ok[i] {
			out = append(out, name)
		}
	}
	return out
}

// CheckHealth probes every known provider in parallel with a 5s budget each.
func (g *Gateway) CheckHealth(ctx context.Context) map[string]HealthStatus {
	names := config.KnownProviders
	results := make([]HealthStatus, len(names))

	var eg errgroup.Group
	for i, name := range names {
		eg.Go(func() error {
			results[i] = g.probe(ctx, g.BuildConfig(name, Config{}), HealthTimeout)
			return nil
		})
	}
	_ = eg.Wait()

	out := make(map[string]HealthStatus, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

func (g *Gateway) enabledProviders() []string {
	if len(g.settings) == 0 {
		return append([]string(nil), config.KnownProviders...)
	}
	var out []string
	for _, name := range config.KnownProviders {
		if s, ok := g.settings[name]; ok && s.Enabled {
			out = append(out, name)
		}
	}
	return out
}

func (g *Gateway) probe(ctx context.Context, cfg Config, timeout time.Duration) HealthStatus {
	if cfg.Endpoint == "" {
		return HealthStatus{Status: StatusNotConfigured, Reason: "no endpoint configured"}
	}

	apiKey := g.keys.APIKey(cfg.Provider)
	if !cfg.IsLocal && apiKey == "" {
		return HealthStatus{Status: StatusNoKey, Reason: "API key not set"}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var hs HealthStatus
	if cfg.Provider == Ollama {
		hs = g.probeOllama(ctx, cfg)
	} else {
		hs = g.probeOpenAI(ctx, cfg, apiKey)
	}
	hs.LatencyMs = time.Since(start).Milliseconds()

	g.log.Debugw("provider probe",
		"provider", cfg.Provider,
		"status", hs.Status,
		"latency_ms", hs.LatencyMs,
	)
	return hs
}

func (g *Gateway) probeOllama(ctx context.Context, cfg Config) HealthStatus {
	client, err := newOllamaClient(cfg.Endpoint, g.httpClient)
	if err != nil {
		return HealthStatus{Status: StatusNotConfigured, Reason: err.Error()}
	}

	resp, err := client.List(ctx)
	if err != nil {
		return classifyProbeError(ctx, err, true)
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	if len(models) == 0 {
		return HealthStatus{Status: StatusRunningNoModels, Reason: "no models pulled", Models: models}
	}
	return HealthStatus{Available: true, Status: StatusReady, Models: models}
}

func (g *Gateway) probeOpenAI(ctx context.Context, cfg Config, apiKey string) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/models", nil)
	if err != nil {
		return HealthStatus{Status: StatusNotConfigured, Reason: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return classifyProbeError(ctx, err, cfg.IsLocal)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return HealthStatus{Status: StatusInvalidKey, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound && cfg.Provider == OpenAICompatible:
		// Some servers expose chat completions without a models listing.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))
		return HealthStatus{Available: true, Status: StatusReady, Reason: "models endpoint not available"}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return HealthStatus{Status: StatusError, Reason: (&statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}).Error()}
	}

	list, err := DecodeJSON(resp, modelList{})
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) || errors.Is(err, ErrNotJSON) {
			return HealthStatus{Status: StatusParseError, Reason: err.Error()}
		}
		return classifyProbeError(ctx, err, cfg.IsLocal)
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
	}
	if cfg.IsLocal && len(models) == 0 {
		return HealthStatus{Status: StatusRunningNoModels, Reason: "no models loaded", Models: models}
	}
	return HealthStatus{Available: true, Status: StatusReady, Models: models}
}

func classifyProbeError(ctx context.Context, err error, local bool) HealthStatus {
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return HealthStatus{Status: StatusTimeout, Reason: "probe timed out"}
	case errors.As(err, &syntaxErr):
		return HealthStatus{Status: StatusParseError, Reason: err.Error()}
	}

	status, _ := statusAndHeader(err)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return HealthStatus{Status: StatusInvalidKey, Reason: err.Error()}
	case local && isConnectionError(err):
		return HealthStatus{Status: StatusNotRunning, Reason: err.Error()}
	}
	return HealthStatus{Status: StatusError, Reason: err.Error()}
}
