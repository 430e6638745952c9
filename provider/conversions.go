package provider

import (
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"rhythm/model"
)

// ParseToolArguments parses a JSON arguments string into a map. Empty input
// and "null" yield an empty map.
func ParseToolArguments(argsJSON string) (map[string]any, error) {
	args := make(map[string]any)
	if argsJSON == "" || argsJSON == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = make(map[string]any)
	}
	return args, nil
}

// ConvertToOpenAIMessages converts messages to OpenAI chat format. Assistant
// tool calls and tool results keep their IDs so the pairing survives.
func ConvertToOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case model.RoleUser:
			result[i] = openai.UserMessage(msg.Content)
		case model.RoleAssistant:
			if !msg.HasToolCalls() {
				result[i] = openai.AssistantMessage(msg.Content)
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openai.ChatCompletionMessageToolCallUnionParam, len(msg.ToolCalls)),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for j, tc := range msg.ToolCalls {
				args := tc.ArgumentsRaw
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls[j] = openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: args,
						},
					},
				}
			}
			result[i] = openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
		case model.RoleTool:
			result[i] = openai.ToolMessage(msg.Content, msg.ToolCallID)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}

	return result
}

// ConvertFromOpenAIMessage converts a completion message to the canonical form.
func ConvertFromOpenAIMessage(msg openai.ChatCompletionMessage) model.Message {
	out := model.Message{
		Role:    model.RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			ArgumentsRaw: tc.Function.Arguments,
		})
	}
	return out
}

// ConvertToOllamaMessages converts messages to Ollama's chat format. Ollama
// matches tool results by position, so tool call IDs are not sent.
func ConvertToOllamaMessages(messages []model.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			args, err := ParseToolArguments(tc.ArgumentsRaw)
			if err != nil {
				args = map[string]any{}
			}
			result[i].ToolCalls = append(result[i].ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
	}
	return result
}

// ConvertFromOllamaToolCalls converts Ollama tool calls to the canonical form.
// Ollama returns arguments as an object; they are re-encoded so every
// provider hands the orchestrator a JSON string. newID supplies call IDs,
// which Ollama does not assign.
func ConvertFromOllamaToolCalls(calls []api.ToolCall, newID func() string) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	result := make([]model.ToolCall, len(calls))
	for i, call := range calls {
		raw := "{}"
		if args := map[string]any(call.Function.Arguments); args != nil {
			if b, err := json.Marshal(args); err == nil {
				raw = string(b)
			}
		}
		result[i] = model.ToolCall{
			ID:           newID(),
			Name:         call.Function.Name,
			ArgumentsRaw: raw,
		}
	}
	return result
}

// ConvertToolsToOllama converts tool schemas to Ollama API tool format.
func ConvertToolsToOllama(tools []mcptypes.Tool) []api.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertInputSchemaToParameters(tool.InputSchema),
			},
		})
	}
	return result
}

func convertInputSchemaToParameters(inputSchema mcptypes.ToolInputSchema) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{
		Type:       inputSchema.Type,
		Required:   inputSchema.Required,
		Properties: make(map[string]api.ToolProperty),
	}

	if inputSchema.Defs != nil {
		params.Defs = inputSchema.Defs
	}

	for propName, propValue := range inputSchema.Properties {
		params.Properties[propName] = convertPropertyValue(propValue)
	}

	return params
}

func convertPropertyValue(propValue any) api.ToolProperty {
	toolProp := api.ToolProperty{}

	propMap, ok := propValue.(map[string]any)
	if !ok {
		bytes, err := json.Marshal(propValue)
		if err != nil {
			return toolProp
		}
		var m map[string]any
		if err := json.Unmarshal(bytes, &m); err != nil {
			return toolProp
		}
		propMap = m
	}

	// type may be a string or a list of strings
	switch t := propMap["type"].(type) {
	case string:
		toolProp.Type = api.PropertyType{t}
	case []string:
		toolProp.Type = api.PropertyType(t)
	case []any:
		types := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
		toolProp.Type = api.PropertyType(types)
	}

	if desc, ok := propMap["description"].(string); ok {
		toolProp.Description = desc
	}

	switch enum := propMap["enum"].(type) {
	case []any:
		toolProp.Enum = enum
	case []string:
		toolProp.Enum = make([]any, len(enum))
		for i, v := range enum {
			toolProp.Enum[i] = v
		}
	}

	if items, ok := propMap["items"]; ok {
		toolProp.Items = items
	}

	if anyOf, ok := propMap["anyOf"].([]any); ok {
		toolProp.AnyOf = make([]api.ToolProperty, 0, len(anyOf))
		for _, item := range anyOf {
			toolProp.AnyOf = append(toolProp.AnyOf, convertPropertyValue(item))
		}
	}

	return toolProp
}

// ConvertToolsToOpenAI converts tool schemas to the OpenAI function-tool
// format shared by every OpenAI-style backend.
func ConvertToolsToOpenAI(tools []mcptypes.Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		properties := tool.InputSchema.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		params := openai.FunctionParameters{
			"type":       tool.InputSchema.Type,
			"properties": properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}
		if tool.InputSchema.Defs != nil {
			params["$defs"] = tool.InputSchema.Defs
		}

		result[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  params,
		})
	}
	return result
}
