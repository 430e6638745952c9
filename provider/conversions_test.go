package provider

import (
	"encoding/json"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythm/model"
)

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "", map[string]any{}, false},
		{"null", "null", map[string]any{}, false},
		{"object", `{"limit":5,"time_range":"short_term"}`, map[string]any{"limit": float64(5), "time_range": "short_term"}, false},
		{"invalid", `{"limit":`, nil, true},
		{"array", `[1,2]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToolArguments(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertToOpenAIMessagesRoles(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "call_1", Name: "get_top_tracks"}}},
		{Role: model.RoleTool, ToolCallID: "call_1", Content: "[]"},
	}

	out := ConvertToOpenAIMessages(msgs)
	require.Len(t, out, 5)
	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfUser)
	assert.NotNil(t, out[2].OfAssistant)

	require.NotNil(t, out[3].OfAssistant)
	calls := out[3].OfAssistant.ToolCalls
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].OfFunction)
	assert.Equal(t, "call_1", calls[0].OfFunction.ID)
	assert.Equal(t, "{}", calls[0].OfFunction.Function.Arguments)

	require.NotNil(t, out[4].OfTool)
	assert.Equal(t, "call_1", out[4].OfTool.ToolCallID)
}

func TestConvertFromOllamaToolCalls(t *testing.T) {
	n := 0
	newID := func() string {
		n++
		return "call_" + string(rune('0'+n))
	}

	calls := []api.ToolCall{
		{Function: api.ToolCallFunction{Name: "get_top_tracks", Arguments: map[string]any{"limit": 5}}},
		{Function: api.ToolCallFunction{Name: "get_listening_stats"}},
	}

	got := ConvertFromOllamaToolCalls(calls, newID)
	require.Len(t, got, 2)
	assert.Equal(t, "call_1", got[0].ID)
	assert.Equal(t, "call_2", got[1].ID)
	assert.JSONEq(t, `{"limit":5}`, got[0].ArgumentsRaw)
	assert.Equal(t, "{}", got[1].ArgumentsRaw)

	assert.Nil(t, ConvertFromOllamaToolCalls(nil, newID))
}

func TestConvertToOllamaMessagesKeepsToolCalls(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c", Name: "search_history", ArgumentsRaw: `{"query":"x"}`}}},
		{Role: model.RoleTool, ToolCallID: "c", Content: "ok"},
	}

	out := ConvertToOllamaMessages(msgs)
	require.Len(t, out, 2)
	require.Len(t, out[0].ToolCalls, 1)
	assert.Equal(t, "search_history", out[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "x", out[0].ToolCalls[0].Function.Arguments["query"])
	assert.Equal(t, "tool", out[1].Role)
}

func TestConvertToolsToOllama(t *testing.T) {
	tools := []mcptypes.Tool{{
		Name:        "get_top_tracks",
		Description: "Top tracks",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"limit": map[string]any{"type": "integer", "description": "How many"},
				"time_range": map[string]any{
					"type": "string",
					"enum": []string{"short_term", "long_term"},
				},
				"nullable": map[string]any{"type": []any{"string", "null"}},
			},
			Required: []string{"limit"},
		},
	}}

	out := ConvertToolsToOllama(tools)
	require.Len(t, out, 1)
	fn := out[0].Function
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "get_top_tracks", fn.Name)
	assert.Equal(t, []string{"limit"}, fn.Parameters.Required)

	assert.Equal(t, api.PropertyType{"integer"}, fn.Parameters.Properties["limit"].Type)
	assert.Equal(t, "How many", fn.Parameters.Properties["limit"].Description)
	assert.Equal(t, []any{"short_term", "long_term"}, fn.Parameters.Properties["time_range"].Enum)
	assert.Equal(t, api.PropertyType{"string", "null"}, fn.Parameters.Properties["nullable"].Type)

	assert.Nil(t, ConvertToolsToOllama(nil))
}

func TestConvertToolsToOpenAI(t *testing.T) {
	tools := []mcptypes.Tool{{
		Name:        "search_history",
		Description: "Search",
		InputSchema: mcptypes.ToolInputSchema{Type: "object", Required: []string{"query"}},
	}}

	out := ConvertToolsToOpenAI(tools)
	require.Len(t, out, 1)

	b, err := json.Marshal(out[0])
	require.NoError(t, err)
	var decoded struct {
		Type     string `json:"type"`
		Function struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"function"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "function", decoded.Type)
	assert.Equal(t, "search_history", decoded.Function.Name)
	assert.Equal(t, map[string]any{}, decoded.Function.Parameters["properties"])
	assert.Equal(t, []any{"query"}, decoded.Function.Parameters["required"])
}
