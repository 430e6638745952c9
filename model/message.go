package model

import (
	"maps"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message in the conversation.
//
// An assistant message may carry ToolCalls; each of them is answered by exactly
// one tool message whose ToolCallID matches the call's ID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitzero"`
	// DataVersion is stamped by the session tagger on insertion.
	DataVersion string `json:"data_version,omitempty"`
}

// ToolCall is a provider-agnostic tool invocation.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ArgumentsRaw is the JSON text the model produced.
	ArgumentsRaw string `json:"arguments"`
	// ArgumentsParsed is derived from ArgumentsRaw and never persisted.
	ArgumentsParsed map[string]any `json:"-"`
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsSystem reports whether the message is a system message.
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// Clone returns a copy of the tool call. Parsed arguments are copied one
// level deep; nested values are shared.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.ArgumentsParsed != nil {
		out.ArgumentsParsed = maps.Clone(tc.ArgumentsParsed)
	}
	return out
}

// CloneMessages deep-copies a message slice. A nil input yields an empty slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
