package toolcall

import (
	apperrors "rhythm/errors"
	"rhythm/model"
)

// EventType identifies a progress event.
type EventType string

const (
	EventToolStart          EventType = "tool_start"
	EventToolEnd            EventType = "tool_end"
	EventCircuitBreakerTrip EventType = "circuit_breaker_trip"
)

// Event is a structured progress notification. Result is set on a successful
// tool_end, Error on a failed one and Reason on a breaker trip.
type Event struct {
	Type   EventType `json:"type"`
	Tool   string    `json:"tool,omitempty"`
	Result string    `json:"result,omitempty"`
	Error  bool      `json:"error,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// ProgressFunc receives progress events. It is called synchronously from the
// orchestrating goroutine.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// Status is the status of an early return.
type Status string

const (
	StatusError           Status = "error"
	StatusPremiumRequired Status = "premium_required"
	StatusPartialSuccess  Status = "partial_success"
)

// EarlyReturn ends a turn before a final assistant reply was produced.
type EarlyReturn struct {
	Status  Status `json:"status"`
	Content string `json:"content"`

	IsFunctionError       bool     `json:"isFunctionError,omitempty"`
	IsCircuitBreakerError bool     `json:"isCircuitBreakerError,omitempty"`
	ToolsSucceeded        bool     `json:"toolsSucceeded,omitempty"`
	PremiumFeatures       []string `json:"premiumFeatures,omitempty"`

	// Err carries the classified error behind the early return.
	Err *apperrors.AppError `json:"-"`
}

// Outcome is the result of HandleToolCalls. Exactly one field is set, except
// for an envelope without choices: it has no response message to hand back,
// so both fields are nil and nothing else happens.
type Outcome struct {
	ResponseMessage *model.Message
	EarlyReturn     *EarlyReturn
}

// Final reports whether the outcome carries an assistant message for the user.
func (o Outcome) Final() bool {
	return o.ResponseMessage != nil
}

func early(er EarlyReturn) Outcome {
	return Outcome{EarlyReturn: &er}
}

func respond(msg model.Message) Outcome {
	return Outcome{ResponseMessage: &msg}
}
