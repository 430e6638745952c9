package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"rhythm/model"
)

// ollamaAdapter talks to an Ollama server through its API client.
type ollamaAdapter struct {
	httpClient *http.Client
	newID      func() string
}

func newOllamaClient(endpoint string, httpClient *http.Client) (*api.Client, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return api.NewClient(parsedURL, httpClient), nil
}

func (a *ollamaAdapter) Complete(ctx context.Context, req Request) (*model.Envelope, error) {
	client, err := newOllamaClient(req.Config.Endpoint, a.httpClient)
	if err != nil {
		return nil, err
	}

	stream := req.OnProgress != nil
	chatReq := &api.ChatRequest{
		Model:    req.Config.Model,
		Messages: ConvertToOllamaMessages(req.Messages),
		Tools:    ConvertToolsToOllama(req.Tools),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Config.Temperature,
			"top_p":       req.Config.TopP,
			"num_predict": req.Config.MaxTokens,
		},
	}

	var (
		content    strings.Builder
		calls      []api.ToolCall
		doneReason string
		responded  bool
	)
	err = client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responded = true
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			if stream {
				req.OnProgress(resp.Message.Content)
			}
		}
		calls = append(calls, resp.Message.ToolCalls...)
		if resp.Done {
			doneReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !responded {
		return &model.Envelope{Model: req.Config.Model}, nil
	}

	msg := model.Message{
		Role:      model.RoleAssistant,
		Content:   content.String(),
		ToolCalls: ConvertFromOllamaToolCalls(calls, a.newID),
	}
	env := model.NewEnvelope(msg)
	env.Model = req.Config.Model
	env.Choices[0].FinishReason = doneReason
	return env, nil
}
