package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"rhythm/model"
)

// openAIAdapter serves every OpenAI-compatible backend through the official
// SDK. SDK retries are disabled; retrying belongs to the caller.
type openAIAdapter struct {
	httpClient *http.Client
}

func (a *openAIAdapter) client(cfg Config, apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.Endpoint),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if a.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(a.httpClient))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return openai.NewClient(opts...)
}

func (a *openAIAdapter) params(req Request) openai.ChatCompletionNewParams {
	cfg := req.Config
	params := openai.ChatCompletionNewParams{
		Messages:    ConvertToOpenAIMessages(req.Messages),
		Model:       openai.ChatModel(cfg.Model),
		Temperature: openai.Float(cfg.Temperature),
		TopP:        openai.Float(cfg.TopP),
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = ConvertToolsToOpenAI(req.Tools)
	}
	return params
}

func (a *openAIAdapter) Complete(ctx context.Context, req Request) (*model.Envelope, error) {
	if req.Config.Endpoint == "" {
		return nil, fmt.Errorf("%s endpoint is not configured", req.Config.Provider)
	}

	client := a.client(req.Config, req.APIKey)
	params := a.params(req)

	if req.OnProgress == nil {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		return envelopeFromCompletion(resp), nil
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			req.OnProgress(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	return envelopeFromCompletion(&acc.ChatCompletion), nil
}

// envelopeFromCompletion keeps a missing choices array as nil so the gateway
// can reject it.
func envelopeFromCompletion(resp *openai.ChatCompletion) *model.Envelope {
	if resp == nil {
		return nil
	}
	env := &model.Envelope{Model: resp.Model}
	if resp.Choices == nil {
		return env
	}
	env.Choices = make([]model.Choice, len(resp.Choices))
	for i, c := range resp.Choices {
		env.Choices[i] = model.Choice{
			Message:      ConvertFromOpenAIMessage(c.Message),
			FinishReason: string(c.FinishReason),
		}
	}
	return env
}
