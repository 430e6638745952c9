// Package breaker limits how many tool calls a single conversational turn may
// make.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker state for the current turn.
type State int

const (
	StateClosed State = iota // calls allowed
	StateOpen                // turn limit reached
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Decision is the result of Check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config configures a Breaker.
type Config struct {
	// MaxCallsPerTurn is the number of tool calls allowed between ResetTurn calls
	MaxCallsPerTurn int

	// MaxTurnDuration stops tool calls once a turn has run this long. Zero disables it.
	MaxTurnDuration time.Duration
}

// DefaultConfig returns the default per-turn limits.
func DefaultConfig() Config {
	return Config{
		MaxCallsPerTurn: 5,
		MaxTurnDuration: 2 * time.Minute,
	}
}

// Breaker counts tool calls per turn.
type Breaker struct {
	mu sync.Mutex

	maxCalls    int
	maxDuration time.Duration

	calls      int
	turnStart  time.Time
	state      State
	lastReason string

	now func() time.Time
}

// New creates a breaker. Non-positive limits fall back to the defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.MaxCallsPerTurn <= 0 {
		cfg.MaxCallsPerTurn = def.MaxCallsPerTurn
	}
	if cfg.MaxTurnDuration < 0 {
		cfg.MaxTurnDuration = 0
	}

	b := &Breaker{
		maxCalls:    cfg.MaxCallsPerTurn,
		maxDuration: cfg.MaxTurnDuration,
		now:         time.Now,
	}
	b.turnStart = b.now()
	return b
}

// Check reports whether another tool call is permitted this turn. It does
// not count the call; RecordCall does.
func (b *Breaker) Check() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.calls >= b.maxCalls {
		b.trip(fmt.Sprintf("maximum of %d tool calls per turn reached", b.maxCalls))
		return Decision{Allowed: false, Reason: b.lastReason}
	}

	if b.maxDuration > 0 && b.now().Sub(b.turnStart) > b.maxDuration {
		b.trip(fmt.Sprintf("turn exceeded %s of tool execution", b.maxDuration))
		return Decision{Allowed: false, Reason: b.lastReason}
	}

	return Decision{Allowed: true}
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastReason = reason
}

// RecordCall counts one attempted tool call, successful or not.
func (b *Breaker) RecordCall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
}

// ResetTurn clears the counters at the start of a new turn.
func (b *Breaker) ResetTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = 0
	b.state = StateClosed
	b.lastReason = ""
	b.turnStart = b.now()
}

// ErrorMessage is the user-facing explanation of the last trip.
func (b *Breaker) ErrorMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastReason == "" {
		return "Tool call limit reached for this turn."
	}
	return fmt.Sprintf("Tool call limit reached for this turn: %s. Ask a narrower question or continue in a new message.", b.lastReason)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Calls returns the number of calls recorded this turn.
func (b *Breaker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
