// Package toolcall executes the tool calls an assistant response requests,
// folds the results into the session and asks the model for the reply the
// user sees.
//
// Calls run one at a time in the order the model declared them. Each call is
// checked against the turn's circuit breaker, bounded by a time budget and
// retried on transient failures. Anything that stops the turn early is
// reported as an EarlyReturn rather than an error; HandleToolCalls returns a
// non-nil error only when the caller cancelled ctx.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"rhythm/breaker"
	"rhythm/budget"
	apperrors "rhythm/errors"
	"rhythm/functions"
	"rhythm/logging"
	"rhythm/model"
	"rhythm/provider"
	"rhythm/retry"
	"rhythm/session"
)

// MaxToolAttempts bounds executions of a single tool call.
const MaxToolAttempts = 3

// Functions executes tools by name.
type Functions interface {
	Execute(ctx context.Context, name string, args map[string]any, streams []functions.Stream) (any, error)
}

// Breaker limits tool calls per turn.
type Breaker interface {
	Check() breaker.Decision
	RecordCall()
	ErrorMessage() string
}

// SessionManager is the slice of the session store the orchestrator needs.
type SessionManager interface {
	History() []model.Message
	AddMany(ctx context.Context, msgs []model.Message) bool
}

// StreamsSource supplies the dataset every tool receives.
type StreamsSource interface {
	StreamsData() []functions.Stream
}

// TimeoutBudget allocates per-tool deadlines.
type TimeoutBudget interface {
	Allocate(op string, d time.Duration) *budget.Budget
	Release(b *budget.Budget)
}

// CallLLMFunc issues one completion request. Callers usually wrap the gateway
// with a retry.Controller before handing it over.
type CallLLMFunc func(ctx context.Context, cfg provider.Config, apiKey string, msgs []model.Message, tools []mcptypes.Tool) (*model.Envelope, error)

// Deps are the orchestrator's collaborators. CallLLM and Sessions are
// required for a useful orchestrator; the rest have defaults.
type Deps struct {
	CallLLM           CallLLMFunc
	Functions         Functions
	Breaker           Breaker
	Sessions          SessionManager
	Streams           StreamsSource
	Budget            TimeoutBudget
	BuildSystemPrompt func() string

	// ToolTimeout bounds one tool execution. Zero uses budget.DefaultTimeout.
	ToolTimeout time.Duration

	// Retry supplies the delay between tool attempts.
	Retry  *retry.Controller
	Logger *logging.Logger
}

// Orchestrator runs tool calls for one conversation.
type Orchestrator struct {
	callLLM     CallLLMFunc
	functions   Functions
	breaker     Breaker
	sessions    SessionManager
	streams     StreamsSource
	budget      TimeoutBudget
	buildPrompt func() string
	toolTimeout time.Duration
	retry       *retry.Controller
	log         *logging.Logger
	newID       func() string
	now         func() time.Time
}

// New creates an orchestrator from deps.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		callLLM:     deps.CallLLM,
		functions:   deps.Functions,
		breaker:     deps.Breaker,
		sessions:    deps.Sessions,
		streams:     deps.Streams,
		budget:      deps.Budget,
		buildPrompt: deps.BuildSystemPrompt,
		toolTimeout: deps.ToolTimeout,
		retry:       deps.Retry,
		log:         logging.OrNop(deps.Logger).Named("toolcall"),
		newID:       func() string { return "call_" + uuid.NewString() },
		now:         time.Now,
	}

	if o.toolTimeout <= 0 {
		o.toolTimeout = budget.DefaultTimeout
	}
	if o.breaker == nil {
		o.breaker = breaker.New(breaker.DefaultConfig())
	}
	if o.sessions == nil {
		o.sessions = session.New()
	}
	if o.budget == nil {
		o.budget = budget.NewManager(o.toolTimeout)
	}
	if o.retry == nil {
		o.retry = retry.Default()
	}
	return o
}

// HandleToolCalls inspects env and, when its first message requests tool
// calls, executes them and returns the follow-up reply.
//
// A response without tool calls comes back unchanged with no side effects.
// When env has no choices both Outcome fields are nil.
func (o *Orchestrator) HandleToolCalls(ctx context.Context, env *model.Envelope, cfg provider.Config, apiKey string, onProgress ProgressFunc) (Outcome, error) {
	msg, ok := env.First()
	if !env.Valid() || !ok {
		return Outcome{}, nil
	}
	if !msg.HasToolCalls() {
		return respond(msg), nil
	}

	if o.callLLM == nil {
		return early(EarlyReturn{
			Status:  StatusError,
			Content: "LLM service not available",
			Err: apperrors.NewBuilder(apperrors.KindUnknown, apperrors.CodeLLMUnavailable, "LLM service not available").
				Recoverable(false).Build(),
		}), nil
	}

	calls := o.dedupe(msg.ToolCalls)
	assistant := msg.Clone()
	assistant.Role = model.RoleAssistant
	assistant.ToolCalls = calls
	if assistant.Timestamp.IsZero() {
		assistant.Timestamp = o.now()
	}

	var pending []model.Message
	if !alreadyPresent(o.sessions.History(), assistant) {
		pending = append(pending, assistant)
	}

	o.log.Debugw("executing tool calls", "count", len(calls), "provider", cfg.Provider)

	streams := o.streamsData()
	results := make([]model.Message, 0, len(calls))
	var stop *EarlyReturn

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return cancelledOutcome(err)
		}

		toolMsg, er, err := o.runCall(ctx, call, streams, onProgress)
		if err != nil {
			return cancelledOutcome(err)
		}
		if toolMsg != nil {
			results = append(results, *toolMsg)
		}
		if er != nil {
			stop = er
			break
		}
	}

	// Calls skipped by an early return still get a result so every call in
	// the stored assistant message stays paired.
	for _, call := range calls[len(results):] {
		results = append(results, o.toolMessage(call, "Not executed: "+stop.Content))
	}

	pending = append(pending, results...)
	if !o.sessions.AddMany(ctx, pending) {
		if err := ctx.Err(); err != nil {
			return cancelledOutcome(err)
		}
		o.log.Warnw("failed to append tool results to session", "messages", len(pending))
	}

	if stop != nil {
		o.log.Debugw("tool execution stopped early", "status", stop.Status, "content", stop.Content)
		return early(*stop), nil
	}

	return o.followUp(ctx, cfg, apiKey)
}

// runCall processes one tool call. It returns the tool message to store (nil
// when nothing ran), an early return when the turn must stop, and an error
// only on cancellation.
func (o *Orchestrator) runCall(ctx context.Context, call model.ToolCall, streams []functions.Stream, progress ProgressFunc) (*model.Message, *EarlyReturn, error) {
	decision := o.breaker.Check()
	if !decision.Allowed {
		progress.emit(Event{Type: EventCircuitBreakerTrip, Tool: call.Name, Reason: decision.Reason})
		content := o.breaker.ErrorMessage()
		o.log.Infow("circuit breaker tripped", "tool", call.Name, "reason", decision.Reason)
		return nil, &EarlyReturn{
			Status:                StatusError,
			Content:               content,
			IsCircuitBreakerError: true,
			Err: apperrors.NewBuilder(apperrors.KindCircuitBreaker, apperrors.CodeCircuitBreakerOpen, content).
				WithContext("reason", decision.Reason).Build(),
		}, nil
	}

	args, err := provider.ParseToolArguments(call.ArgumentsRaw)
	if err != nil {
		content := fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)
		progress.emit(Event{Type: EventToolEnd, Tool: call.Name, Error: true})
		toolMsg := o.toolMessage(call, "Error: "+content)
		return &toolMsg, &EarlyReturn{
			Status:          StatusError,
			Content:         content,
			IsFunctionError: true,
			Err: apperrors.NewBuilder(apperrors.KindFunctionError, apperrors.CodeToolInvalidArgs, content).
				Wrap(err).WithContext("tool", call.Name).
				WithSuggestion("Rephrase the question and try again").Build(),
		}, nil
	}

	progress.emit(Event{Type: EventToolStart, Tool: call.Name})

	if o.functions == nil {
		o.breaker.RecordCall()
		progress.emit(Event{Type: EventToolEnd, Tool: call.Name, Error: true})
		toolMsg := o.toolMessage(call, fmt.Sprintf("Error: tool functions are not available, %s was not executed", call.Name))
		return &toolMsg, nil, nil
	}

	res := o.execute(ctx, call.Name, args, streams)
	o.breaker.RecordCall()

	if res.cancelled != nil {
		return nil, nil, res.cancelled
	}

	fail := func(kind apperrors.Kind, code, content string, cause error) (*model.Message, *EarlyReturn, error) {
		progress.emit(Event{Type: EventToolEnd, Tool: call.Name, Error: true})
		toolMsg := o.toolMessage(call, "Error: "+content)
		b := apperrors.NewBuilder(kind, code, content).WithContext("tool", call.Name)
		if cause != nil {
			b.Wrap(cause)
		}
		return &toolMsg, &EarlyReturn{
			Status:          StatusError,
			Content:         content,
			IsFunctionError: kind == apperrors.KindFunctionError,
			Err:             b.Build(),
		}, nil
	}

	switch {
	case res.timedOut:
		return fail(apperrors.KindTimeout, apperrors.CodeToolTimeout,
			fmt.Sprintf("%s timed out after %s", call.Name, o.toolTimeout), budget.ErrExceeded)

	case res.err != nil:
		return fail(apperrors.KindFunctionError, apperrors.CodeToolFailed,
			fmt.Sprintf("%s failed after %d attempts: %v", call.Name, res.attempts, res.err), res.err)

	case res.cls.kind == kindFailed:
		return fail(apperrors.KindFunctionError, apperrors.CodeToolFailed,
			fmt.Sprintf("%s failed after %d attempts: %s", call.Name, res.attempts, res.cls.message), nil)

	case res.cls.kind == kindValidation:
		return fail(apperrors.KindFunctionError, apperrors.CodeToolInvalidArgs,
			fmt.Sprintf("%s rejected its arguments: %s", call.Name, res.cls.message), nil)

	case res.cls.kind == kindPremium:
		features := strings.Join(res.cls.features, ", ")
		content := fmt.Sprintf("%s needs a premium feature: %s", call.Name, features)
		progress.emit(Event{Type: EventToolEnd, Tool: call.Name, Error: true})
		toolMsg := o.toolMessage(call, "Premium feature required: "+features)
		return &toolMsg, &EarlyReturn{
			Status:          StatusPremiumRequired,
			Content:         content,
			PremiumFeatures: res.cls.features,
			Err: apperrors.NewBuilder(apperrors.KindPremiumRequired, apperrors.CodeToolPremium, content).
				WithContext("features", res.cls.features).Build(),
		}, nil
	}

	content := SerializeResult(res.value)
	o.log.Debugw("tool finished", "tool", call.Name, "attempts", res.attempts, "chars", len(content))
	progress.emit(Event{Type: EventToolEnd, Tool: call.Name, Result: content})
	toolMsg := o.toolMessage(call, content)
	return &toolMsg, nil, nil
}

type execResult struct {
	value     any
	cls       classified
	err       error
	attempts  int
	timedOut  bool
	cancelled error
}

// execute runs a tool with up to MaxToolAttempts attempts. Errors returned by
// the executor and results carrying a generic error are retried; validation
// and premium results are final. Timeouts and cancellation are never retried.
func (o *Orchestrator) execute(ctx context.Context, name string, args map[string]any, streams []functions.Stream) execResult {
	var last execResult
	for attempt := range MaxToolAttempts {
		if attempt > 0 {
			if err := retry.Delay(ctx, o.retry.CalculateDelay(attempt-1)); err != nil {
				return execResult{cancelled: err}
			}
		}

		value, exceeded, err := o.attempt(ctx, name, args, streams)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return execResult{cancelled: ctxErr}
		}
		if exceeded {
			return execResult{timedOut: true, attempts: attempt + 1}
		}
		if err != nil {
			o.log.Debugw("tool attempt failed", "tool", name, "attempt", attempt+1, "error", err)
			last = execResult{err: err, attempts: attempt + 1}
			continue
		}

		cls := classify(value)
		if cls.kind == kindFailed {
			o.log.Debugw("tool reported an error", "tool", name, "attempt", attempt+1, "error", cls.message)
			last = execResult{value: value, cls: cls, attempts: attempt + 1}
			continue
		}
		return execResult{value: value, cls: cls, attempts: attempt + 1}
	}
	return last
}

type attemptResult struct {
	value any
	err   error
}

// attempt runs the executor once under a fresh budget. The executor receives
// the budget's context; if it ignores cancellation the attempt still ends at
// the deadline.
func (o *Orchestrator) attempt(ctx context.Context, name string, args map[string]any, streams []functions.Stream) (any, bool, error) {
	b := o.budget.Allocate("tool:"+name, o.toolTimeout)
	defer o.budget.Release(b)

	tctx, cancel := b.Context(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		v, err := o.functions.Execute(tctx, name, maps.Clone(args), streams)
		done <- attemptResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err != nil && (budget.IsExceeded(tctx) || aborted(ctx, r.err)), r.err
	case <-tctx.Done():
		return nil, budget.IsExceeded(tctx), context.Cause(tctx)
	}
}

// aborted reports whether err is the tool's own timeout or abort. The caller's
// ctx must still be live; its cancellation is handled separately.
func aborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, budget.ErrExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (o *Orchestrator) followUp(ctx context.Context, cfg provider.Config, apiKey string) (Outcome, error) {
	msgs := o.followUpMessages()
	o.log.Debugw("requesting follow-up", "provider", cfg.Provider, "messages", len(msgs))

	env, err := o.callLLM(ctx, cfg, apiKey, msgs, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelledOutcome(ctxErr)
		}
		return summaryFailed(err), nil
	}

	final, ok := env.First()
	if !env.Valid() || !ok {
		return summaryFailed(errors.New("empty response")), nil
	}

	final.Role = model.RoleAssistant
	if final.HasToolCalls() {
		// No tools were offered; a stray request cannot be answered.
		o.log.Debugw("dropping tool calls from follow-up", "count", len(final.ToolCalls))
		final.ToolCalls = nil
	}
	if final.Timestamp.IsZero() {
		final.Timestamp = o.now()
	}

	if !o.sessions.AddMany(ctx, []model.Message{final}) {
		o.log.Warnw("failed to append follow-up reply to session")
	}
	return respond(final), nil
}

// followUpMessages is the session history with a freshly built system prompt
// in place of any stored system messages.
func (o *Orchestrator) followUpMessages() []model.Message {
	history := o.sessions.History()
	if o.buildPrompt == nil {
		return history
	}

	msgs := make([]model.Message, 0, len(history)+1)
	msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: o.buildPrompt(), Timestamp: o.now()})
	for _, m := range history {
		if !m.IsSystem() {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (o *Orchestrator) streamsData() []functions.Stream {
	if o.streams == nil {
		return nil
	}
	return o.streams.StreamsData()
}

func (o *Orchestrator) toolMessage(call model.ToolCall, content string) model.Message {
	return model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		Timestamp:  o.now(),
	}
}

// dedupe assigns IDs to anonymous calls and keeps the first call for each ID.
func (o *Orchestrator) dedupe(calls []model.ToolCall) []model.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]model.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.ID == "" {
			c.ID = o.newID()
		}
		if seen[c.ID] {
			o.log.Debugw("dropping duplicate tool call", "id", c.ID, "tool", c.Name)
			continue
		}
		seen[c.ID] = true
		out = append(out, c.Clone())
	}
	return out
}

// alreadyPresent reports whether the last stored message is msg's tool call
// request.
func alreadyPresent(history []model.Message, msg model.Message) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role != model.RoleAssistant || len(last.ToolCalls) != len(msg.ToolCalls) {
		return false
	}
	for i := range last.ToolCalls {
		if last.ToolCalls[i].ID != msg.ToolCalls[i].ID {
			return false
		}
	}
	return true
}

func summaryFailed(err error) Outcome {
	content := "Tools ran successfully, but summary generation failed: " + apperrors.FormatUserMessage(err)
	return early(EarlyReturn{
		Status:         StatusPartialSuccess,
		Content:        content,
		ToolsSucceeded: true,
		Err: apperrors.NewBuilder(apperrors.KindPartialSuccess, apperrors.CodeSummaryFailed, "summary generation failed").
			Wrap(err).WithSuggestion("Ask again to regenerate the summary").Build(),
	})
}

func cancelledOutcome(err error) (Outcome, error) {
	appErr := apperrors.NewBuilder(apperrors.KindCancelled, apperrors.CodeCancelled, "tool execution cancelled").
		Wrap(err).Recoverable(false).Build()
	return early(EarlyReturn{Status: StatusError, Content: "Request cancelled", Err: appErr}), appErr
}
