// Package functions is the tool registry the assistant calls into. Every tool
// operates over the user's streaming history.
package functions

import (
	"context"
	"fmt"
	"sort"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"rhythm/model"
)

// Result is what a tool returns to the orchestrator.
//
// Exactly one of the outcome fields is meaningful: Data for success,
// ValidationErrors for bad arguments, Error for a failed execution,
// PremiumRequired for a capability the user lacks, Empty for an intentionally
// empty answer.
type Result struct {
	Data             any      `json:"result,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
	PremiumRequired  bool     `json:"premium_required,omitempty"`
	PremiumFeatures  []string `json:"premiumFeatures,omitempty"`
	Empty            bool     `json:"_empty,omitempty"`
}

// Handler executes a tool.
type Handler func(ctx context.Context, args map[string]any, streams []Stream) (*Result, error)

// Tool couples a schema with its handler.
type Tool struct {
	Schema   mcptypes.Tool
	Handler  Handler
	Requires []model.Capability
}

// Registry holds the tools available to the assistant.
type Registry struct {
	tools map[string]Tool
	order []string
	caps  model.CapabilitySet
}

// NewRegistry creates an empty registry that grants caps.
func NewRegistry(caps model.CapabilitySet) *Registry {
	if caps == nil {
		caps = model.NewCapabilitySet()
	}
	return &Registry{
		tools: make(map[string]Tool),
		caps:  caps,
	}
}

// Default returns a registry with every built-in tool registered.
func Default(caps model.CapabilitySet) *Registry {
	r := NewRegistry(caps)
	r.Register(topTracksTool())
	r.Register(topArtistsTool())
	r.Register(listeningStatsTool())
	r.Register(genreDistributionTool())
	r.Register(searchHistoryTool())
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	name := t.Schema.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Schemas returns tool schemas in registration order.
func (r *Registry) Schemas() []mcptypes.Tool {
	out := make([]mcptypes.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

// Execute runs name with args over streams. Unknown tools and missing
// capabilities are reported in the Result, not as errors; a returned error
// means the execution itself failed.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, streams []Stream) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		known := r.Names()
		sort.Strings(known)
		return &Result{ValidationErrors: []string{fmt.Sprintf("unknown tool %q (available: %v)", name, known)}}, nil
	}

	if missing := r.caps.Missing(t.Requires...); len(missing) > 0 {
		features := make([]string, len(missing))
		for i, c := range missing {
			features[i] = string(c)
		}
		return &Result{PremiumRequired: true, PremiumFeatures: features}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args, streams)
}
