package model

// Envelope is the canonical response shape every provider adapter returns:
//
//	{ choices: [ { message: { role, content?, tool_calls? } } ] }
//
// Consumers branch on the first choice's ToolCalls only, never on which
// provider produced it.
type Envelope struct {
	Choices []Choice `json:"choices"`
	Model   string   `json:"model,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewEnvelope wraps a single assistant message.
func NewEnvelope(msg Message) *Envelope {
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	return &Envelope{Choices: []Choice{{Message: msg}}}
}

// First returns the first choice's message, or false when there is none.
func (e *Envelope) First() (Message, bool) {
	if e == nil || len(e.Choices) == 0 {
		return Message{}, false
	}
	return e.Choices[0].Message, true
}

// Valid reports whether the envelope carries a choices array.
func (e *Envelope) Valid() bool {
	return e != nil && e.Choices != nil
}
