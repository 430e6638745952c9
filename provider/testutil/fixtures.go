package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"rhythm/model"
)

// TestMessages returns a short conversation seeded with a system prompt.
func TestMessages() []model.Message {
	return []model.Message{
		SystemMessage("You are a music listening assistant."),
		{
			Role:      model.RoleUser,
			Content:   "what are my top tracks?",
			Timestamp: time.Now(),
		},
	}
}

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return model.Message{
		Role:      model.RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// TestTools returns sample tool schemas for testing
func TestTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		{
			Name:        "get_top_tracks",
			Description: "Get the user's most played tracks",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Number of results",
					},
					"time_range": map[string]any{
						"type": "string",
						"enum": []any{"short_term", "medium_term", "long_term"},
					},
				},
			},
		},
		{
			Name:        "search_history",
			Description: "Search listening history",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{"type": "string"},
				},
				Required: []string{"query"},
			},
		},
	}
}

// TextEnvelope wraps a plain assistant reply.
func TextEnvelope(content string) *model.Envelope {
	return model.NewEnvelope(model.Message{Role: model.RoleAssistant, Content: content})
}

// ToolCall builds a tool call with JSON-encoded arguments. A nil args map
// produces empty arguments.
func ToolCall(id, name string, args map[string]any) model.ToolCall {
	tc := model.ToolCall{ID: id, Name: name}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("testutil: marshal args: %v", err))
		}
		tc.ArgumentsRaw = string(b)
	}
	return tc
}

// ToolCallEnvelope wraps an assistant message that requests calls.
func ToolCallEnvelope(calls ...model.ToolCall) *model.Envelope {
	return model.NewEnvelope(model.Message{Role: model.RoleAssistant, ToolCalls: calls})
}
