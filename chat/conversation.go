// Package chat drives conversation turns: it records the user's message,
// asks the configured provider for a response, hands tool calls to the
// orchestrator and keeps the session persisted between runs.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"rhythm/breaker"
	"rhythm/budget"
	"rhythm/config"
	"rhythm/functions"
	"rhythm/logging"
	"rhythm/model"
	"rhythm/provider"
	"rhythm/retry"
	"rhythm/session"
	"rhythm/storage"
	"rhythm/toolcall"
)

// UnlimitedToolCalls is the per-turn ceiling granted by
// model.CapabilityUnlimitedTools. The breaker still applies.
const UnlimitedToolCalls = 25

// EventStreamRetry is sent to the progress callback when a streamed reply
// failed partway and is requested again. Deltas received so far are void.
const EventStreamRetry toolcall.EventType = "stream_retry"

// ErrNoStore is returned by session operations that need persistence when
// the conversation runs without a store.
var ErrNoStore = errors.New("chat: no session store configured")

// Gateway is the part of provider.Gateway a conversation uses.
type Gateway interface {
	BuildConfig(provider string, base provider.Config) provider.Config
	Call(ctx context.Context, cfg provider.Config, apiKey string, msgs []model.Message, tools []mcptypes.Tool, onProgress provider.ProgressFunc) (*model.Envelope, error)
}

// Options configure a Conversation. Config and Gateway are required.
type Options struct {
	Config  *config.Config
	Gateway Gateway

	// Store persists sessions; nil keeps everything in memory.
	Store   storage.Store
	Dataset *Dataset

	// Capabilities overrides Config.Chat.Capabilities when non-nil.
	Capabilities model.CapabilitySet

	// Retry overrides the policy built from Config.Retry.
	Retry  *retry.Controller
	Logger *logging.Logger
}

// Conversation runs one turn at a time against the active session.
type Conversation struct {
	cfg      *config.Config
	gateway  Gateway
	store    storage.Store
	dataset  *Dataset
	registry *functions.Registry
	breaker  *breaker.Breaker
	sessions *session.Store
	tools    *toolcall.Orchestrator
	retry    *retry.Controller
	log      *logging.Logger

	turn sync.Mutex
	now  func() time.Time
}

// New wires a conversation from opts.
func New(opts Options) (*Conversation, error) {
	if opts.Config == nil {
		return nil, errors.New("chat: config is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("chat: gateway is required")
	}

	cfg := opts.Config
	log := logging.OrNop(opts.Logger).Named("chat")

	caps := opts.Capabilities
	if caps == nil {
		caps = ParseCapabilities(cfg.Chat.Capabilities)
	}

	dataset := opts.Dataset
	if dataset == nil {
		dataset = NewDataset(nil)
	}

	ctrl := opts.Retry
	if ctrl == nil {
		ctrl = &retry.Controller{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			Jitter:      retry.DefaultJitter,
		}
	}
	if ctrl.Logger == nil {
		ctrl.Logger = log.Named("retry")
	}

	maxCalls := cfg.Chat.MaxToolCallsPerTurn
	if caps.Has(model.CapabilityUnlimitedTools) {
		maxCalls = max(maxCalls, UnlimitedToolCalls)
	}

	c := &Conversation{
		cfg:      cfg,
		gateway:  opts.Gateway,
		store:    opts.Store,
		dataset:  dataset,
		registry: functions.Default(caps),
		breaker: breaker.New(breaker.Config{
			MaxCallsPerTurn: maxCalls,
			MaxTurnDuration: breaker.DefaultConfig().MaxTurnDuration,
		}),
		retry: ctrl,
		log:   log,
		now:   time.Now,
	}

	sessOpts := []session.Option{
		session.WithWindow(cfg.Chat.HistoryWindow),
		session.WithTagger(dataset),
		session.WithLogger(opts.Logger),
	}
	if c.store != nil {
		sessOpts = append(sessOpts,
			session.WithPersister(&storePersister{store: c.store, provider: c.providerInfo}),
			session.WithPublisher(&currentSessionPublisher{store: c.store}),
		)
	}
	c.sessions = session.New(sessOpts...)

	toolTimeout := cfg.ToolTimeout()
	c.tools = toolcall.New(toolcall.Deps{
		CallLLM:           c.callLLM,
		Functions:         c.registry,
		Breaker:           c.breaker,
		Sessions:          c.sessions,
		Streams:           c.dataset,
		Budget:            budget.NewManager(toolTimeout),
		BuildSystemPrompt: c.SystemPrompt,
		ToolTimeout:       toolTimeout,
		Retry:             ctrl,
		Logger:            opts.Logger,
	})

	return c, nil
}

// ParseCapabilities converts configured capability names into a set.
// Unknown names are kept; tools only ever ask about the ones they know.
func ParseCapabilities(names []string) model.CapabilitySet {
	caps := make([]model.Capability, 0, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			caps = append(caps, model.Capability(n))
		}
	}
	return model.NewCapabilitySet(caps...)
}

// Sessions exposes the session store backing the conversation.
func (c *Conversation) Sessions() *session.Store {
	return c.sessions
}

// Dataset returns the streaming history the tools run over.
func (c *Conversation) Dataset() *Dataset {
	return c.dataset
}

// SystemPrompt builds the system prompt for the current dataset and tools.
func (c *Conversation) SystemPrompt() string {
	return BuildSystemPrompt(c.dataset.StreamsData(), c.registry.Names())
}

// ProviderConfig resolves the request config for the default provider.
func (c *Conversation) ProviderConfig() provider.Config {
	return c.gateway.BuildConfig(c.cfg.DefaultProvider, provider.Config{})
}

func (c *Conversation) providerInfo() (string, string) {
	pc := c.ProviderConfig()
	return pc.Provider, pc.Model
}

// NewSession starts an empty session seeded with the system prompt.
func (c *Conversation) NewSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	seed := []model.Message{{
		Role:      model.RoleSystem,
		Content:   c.SystemPrompt(),
		Timestamp: c.now(),
	}}
	if err := c.sessions.Set(ctx, id, seed); err != nil {
		return "", err
	}
	c.log.Debugw("started session", "session_id", id)
	return id, nil
}

// LoadSession makes a stored session the active one.
func (c *Conversation) LoadSession(ctx context.Context, id string) error {
	if c.store == nil {
		return ErrNoStore
	}
	sess, err := c.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if err := c.sessions.Set(ctx, sess.ID, sess.Messages); err != nil {
		return err
	}
	c.log.Debugw("loaded session", "session_id", sess.ID, "messages", len(sess.Messages))
	return nil
}

// Resume loads the session that was active in the previous run, or starts a
// new one when there is none.
func (c *Conversation) Resume(ctx context.Context) (string, error) {
	if c.store == nil {
		return c.NewSession(ctx)
	}

	id, err := c.store.LoadCurrentSessionID(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read current session: %w", err)
	}
	if id != "" {
		err := c.LoadSession(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
	}
	return c.NewSession(ctx)
}

// Send runs one turn for text. Streamed deltas of the first response go to
// onDelta; tool progress goes to onProgress. The outcome either carries the
// assistant message to show or an early return describing why the turn
// stopped. A provider failure that survives the retry policy is returned as
// an error.
func (c *Conversation) Send(ctx context.Context, text string, onDelta provider.ProgressFunc, onProgress toolcall.ProgressFunc) (toolcall.Outcome, error) {
	c.turn.Lock()
	defer c.turn.Unlock()

	if c.sessions.CurrentID() == "" {
		if _, err := c.NewSession(ctx); err != nil {
			return toolcall.Outcome{}, err
		}
	}

	c.breaker.ResetTurn()

	user := model.Message{Role: model.RoleUser, Content: text, Timestamp: c.now()}
	if !c.sessions.Add(ctx, user) {
		if err := ctx.Err(); err != nil {
			return toolcall.Outcome{}, err
		}
		return toolcall.Outcome{}, errors.New("chat: failed to record message")
	}

	pcfg := c.ProviderConfig()
	apiKey := c.cfg.APIKey(pcfg.Provider)
	tools := c.registry.Schemas()
	msgs := c.requestMessages()

	var (
		stream   provider.ProgressFunc
		streamed bool
	)
	if onDelta != nil {
		stream = func(delta string) {
			streamed = true
			onDelta(delta)
		}
	}

	env, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*model.Envelope, error) {
		if streamed {
			streamed = false
			if onProgress != nil {
				onProgress(toolcall.Event{Type: EventStreamRetry, Reason: "reply interrupted, retrying"})
			}
		}
		return c.gateway.Call(ctx, pcfg, apiKey, msgs, tools, stream)
	})
	if err != nil {
		return toolcall.Outcome{}, err
	}

	out, err := c.tools.HandleToolCalls(ctx, env, pcfg, apiKey, onProgress)
	if err != nil {
		return toolcall.Outcome{}, err
	}

	// Tool turns store their own follow-up reply; plain replies are stored here.
	if first, ok := env.First(); ok && !first.HasToolCalls() && out.ResponseMessage != nil {
		reply := out.ResponseMessage.Clone()
		reply.Role = model.RoleAssistant
		if reply.Timestamp.IsZero() {
			reply.Timestamp = c.now()
		}
		c.sessions.Add(ctx, reply)
		out.ResponseMessage = &reply
	}

	return out, nil
}

// requestMessages is the history with a freshly built system prompt in place
// of the stored ones.
func (c *Conversation) requestMessages() []model.Message {
	history := c.sessions.History()
	msgs := make([]model.Message, 0, len(history)+1)
	msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: c.SystemPrompt()})
	for _, m := range history {
		if !m.IsSystem() {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// callLLM is the orchestrator's follow-up path: the gateway under the
// conversation's retry policy, without streaming.
func (c *Conversation) callLLM(ctx context.Context, cfg provider.Config, apiKey string, msgs []model.Message, tools []mcptypes.Tool) (*model.Envelope, error) {
	return retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*model.Envelope, error) {
		return c.gateway.Call(ctx, cfg, apiKey, msgs, tools, nil)
	})
}
