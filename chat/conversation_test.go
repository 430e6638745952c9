package chat

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythm/config"
	apperrors "rhythm/errors"
	"rhythm/functions"
	"rhythm/model"
	"rhythm/provider"
	"rhythm/provider/testutil"
	"rhythm/retry"
	"rhythm/storage"
	"rhythm/toolcall"
)

func testStreams() []functions.Stream {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []functions.Stream{
		{Timestamp: base, MsPlayed: 180000, TrackName: "Song A", ArtistName: "Artist A", AlbumName: "Album A"},
		{Timestamp: base.Add(time.Hour), MsPlayed: 200000, TrackName: "Song A", ArtistName: "Artist A", AlbumName: "Album A"},
		{Timestamp: base.Add(2 * time.Hour), MsPlayed: 150000, TrackName: "Song B", ArtistName: "Artist B", AlbumName: "Album B"},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultProvider: provider.OpenRouter,
		Chat: config.ChatConfig{
			MaxToolCallsPerTurn: 5,
			ToolTimeoutSeconds:  5,
			HistoryWindow:       200,
			Capabilities:        []string{"basic_stats", "history_search"},
		},
	}
}

type fixture struct {
	conv    *Conversation
	adapter *testutil.MockAdapter
	store   storage.Store
}

type fixtureOption func(*Options)

func withStore(s storage.Store) fixtureOption {
	return func(o *Options) { o.Store = s }
}

func withCapabilities(caps ...model.Capability) fixtureOption {
	return func(o *Options) { o.Capabilities = model.NewCapabilitySet(caps...) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	adapter := testutil.NewMockAdapter()
	o := Options{
		Config:  testConfig(),
		Gateway: provider.New(provider.WithAdapter(provider.OpenRouter, adapter)),
		Dataset: NewDataset(testStreams()),
		Retry:   &retry.Controller{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(&o)
	}

	conv, err := New(o)
	require.NoError(t, err)
	return &fixture{conv: conv, adapter: adapter, store: o.Store}
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(storage.DriverSQLite, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func roles(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestNewRequiresConfigAndGateway(t *testing.T) {
	_, err := New(Options{Gateway: provider.New()})
	assert.Error(t, err)

	_, err = New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestSendPlainReply(t *testing.T) {
	f := newFixture(t)
	f.adapter.CompleteFunc = testutil.Sequence(testutil.Step{Envelope: testutil.TextEnvelope("Hi there")})

	out, err := f.conv.Send(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, out.ResponseMessage)
	assert.Nil(t, out.EarlyReturn)
	assert.Equal(t, "Hi there", out.ResponseMessage.Content)

	history := f.conv.Sessions().History()
	assert.Equal(t, []string{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(history))
	assert.False(t, history[2].Timestamp.IsZero())

	reqs := f.adapter.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, len(f.conv.registry.Names()))
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, model.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[0].Content, "DATASET: 3 plays of 2 tracks by 2 artists")
	assert.Equal(t, provider.OpenRouter, reqs[0].Config.Provider)
}

func TestSendStreamsDeltas(t *testing.T) {
	f := newFixture(t)

	var deltas []string
	_, err := f.conv.Send(context.Background(), "hello", func(d string) { deltas = append(deltas, d) }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mock response"}, deltas)
}

func TestSendRunsTools(t *testing.T) {
	f := newFixture(t)
	f.adapter.CompleteFunc = testutil.Sequence(
		testutil.Step{Envelope: testutil.ToolCallEnvelope(
			testutil.ToolCall("call_1", "get_top_tracks", map[string]any{"limit": 1, "time_range": "all_time"}),
		)},
		testutil.Step{Envelope: testutil.TextEnvelope("Your top track is Song A by Artist A.")},
	)

	var events []toolcall.EventType
	out, err := f.conv.Send(context.Background(), "what are my top tracks?", nil, func(ev toolcall.Event) {
		events = append(events, ev.Type)
	})
	require.NoError(t, err)
	require.NotNil(t, out.ResponseMessage)
	assert.Equal(t, "Your top track is Song A by Artist A.", out.ResponseMessage.Content)
	assert.Equal(t, []toolcall.EventType{toolcall.EventToolStart, toolcall.EventToolEnd}, events)

	history := f.conv.Sessions().History()
	assert.Equal(t, []string{
		model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool, model.RoleAssistant,
	}, roles(history))
	assert.Equal(t, "call_1", history[3].ToolCallID)
	assert.Contains(t, history[3].Content, `"trackName":"Song A"`)
	assert.NotContains(t, history[3].Content, "Song B")

	reqs := f.adapter.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].Tools)
}

func TestSendRetriesTransientProviderErrors(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.adapter.CompleteFunc = func(ctx context.Context, req provider.Request) (*model.Envelope, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("dial tcp 127.0.0.1:1: %w", syscall.ECONNREFUSED)
		}
		return testutil.TextEnvelope("recovered"), nil
	}

	out, err := f.conv.Send(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, out.ResponseMessage)
	assert.Equal(t, "recovered", out.ResponseMessage.Content)
	assert.Equal(t, 3, calls)
}

func TestSendSignalsRestartedStream(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.adapter.CompleteFunc = func(ctx context.Context, req provider.Request) (*model.Envelope, error) {
		calls++
		if calls == 1 {
			req.OnProgress("Your top")
			return nil, fmt.Errorf("read tcp 127.0.0.1:1: %w", syscall.ECONNRESET)
		}
		req.OnProgress("Your top track is Song A.")
		return testutil.TextEnvelope("Your top track is Song A."), nil
	}

	var log []string
	out, err := f.conv.Send(context.Background(), "hello",
		func(d string) { log = append(log, "delta:"+d) },
		func(ev toolcall.Event) { log = append(log, "event:"+string(ev.Type)) })
	require.NoError(t, err)
	require.NotNil(t, out.ResponseMessage)

	assert.Equal(t, []string{
		"delta:Your top",
		"event:" + string(EventStreamRetry),
		"delta:Your top track is Song A.",
	}, log)
	assert.Equal(t, 2, calls)
}

func TestSendReturnsPermanentProviderErrors(t *testing.T) {
	f := newFixture(t)
	f.adapter.CompleteFunc = testutil.Sequence(testutil.Step{Err: errors.New("401 unauthorized: invalid api key")})

	out, err := f.conv.Send(context.Background(), "hello", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
	assert.Nil(t, out.ResponseMessage)
	assert.Len(t, f.adapter.Requests(), 1)

	// The user message is kept so the turn can be retried.
	assert.Equal(t, []string{model.RoleSystem, model.RoleUser}, roles(f.conv.Sessions().History()))
}

func TestSendCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.conv.Send(ctx, "hello", nil, nil)
	assert.Error(t, err)
	assert.Empty(t, f.adapter.Requests())
}

func TestSendResetsBreakerEachTurn(t *testing.T) {
	f := newFixture(t)
	calls := make([]model.ToolCall, 5)
	for i := range calls {
		calls[i] = testutil.ToolCall(fmt.Sprintf("call_%d", i), "get_top_tracks", nil)
	}

	for turn := 0; turn < 2; turn++ {
		f.adapter.CompleteFunc = testutil.Sequence(
			testutil.Step{Envelope: testutil.ToolCallEnvelope(calls...)},
			testutil.Step{Envelope: testutil.TextEnvelope("done")},
		)
		out, err := f.conv.Send(context.Background(), "again", nil, nil)
		require.NoError(t, err)
		require.Nil(t, out.EarlyReturn, "turn %d", turn)
		require.NotNil(t, out.ResponseMessage)
	}
}

func TestUnlimitedToolsCapability(t *testing.T) {
	calls := make([]model.ToolCall, 6)
	for i := range calls {
		calls[i] = testutil.ToolCall(fmt.Sprintf("call_%d", i), "get_top_tracks", nil)
	}
	script := testutil.Sequence(
		testutil.Step{Envelope: testutil.ToolCallEnvelope(calls...)},
		testutil.Step{Envelope: testutil.TextEnvelope("done")},
	)

	t.Run("limited", func(t *testing.T) {
		f := newFixture(t, withCapabilities(model.CapabilityBasicStats))
		f.adapter.CompleteFunc = script

		out, err := f.conv.Send(context.Background(), "six tools", nil, nil)
		require.NoError(t, err)
		require.NotNil(t, out.EarlyReturn)
		assert.True(t, out.EarlyReturn.IsCircuitBreakerError)
	})

	t.Run("unlimited", func(t *testing.T) {
		f := newFixture(t, withCapabilities(model.CapabilityBasicStats, model.CapabilityUnlimitedTools))
		f.adapter.CompleteFunc = testutil.Sequence(
			testutil.Step{Envelope: testutil.ToolCallEnvelope(calls...)},
			testutil.Step{Envelope: testutil.TextEnvelope("done")},
		)

		out, err := f.conv.Send(context.Background(), "six tools", nil, nil)
		require.NoError(t, err)
		assert.Nil(t, out.EarlyReturn)
		require.NotNil(t, out.ResponseMessage)
		assert.Equal(t, "done", out.ResponseMessage.Content)
	})
}

func TestSendTagsMessagesWithDatasetVersion(t *testing.T) {
	f := newFixture(t)

	_, err := f.conv.Send(context.Background(), "hello", nil, nil)
	require.NoError(t, err)

	want := f.conv.Dataset().Version()
	require.NotEmpty(t, want)
	for _, m := range f.conv.Sessions().History() {
		if m.IsSystem() {
			continue
		}
		assert.Equal(t, want, m.DataVersion, "role %s", m.Role)
	}
}

func TestSendPersistsSession(t *testing.T) {
	store := openStore(t)
	f := newFixture(t, withStore(store))
	ctx := context.Background()

	_, err := f.conv.Send(ctx, "hello rhythm", nil, nil)
	require.NoError(t, err)
	id := f.conv.Sessions().CurrentID()

	saved, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello rhythm", saved.Name)
	assert.Equal(t, provider.OpenRouter, saved.Provider)
	assert.Equal(t, []string{model.RoleSystem, model.RoleUser, model.RoleAssistant}, roles(saved.Messages))

	current, err := store.LoadCurrentSessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, current)
}

func TestNewSessionIsNotPersistedUntilUsed(t *testing.T) {
	store := openStore(t)
	f := newFixture(t, withStore(store))
	ctx := context.Background()

	id, err := f.conv.NewSession(ctx)
	require.NoError(t, err)

	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResume(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := newFixture(t, withStore(store))
	_, err := first.conv.Send(ctx, "remember me", nil, nil)
	require.NoError(t, err)
	want := first.conv.Sessions().Get()

	second := newFixture(t, withStore(store))
	id, err := second.conv.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.ID, id)

	got := second.conv.Sessions().Get()
	assert.Equal(t, int64(0), got.Version)
	require.Len(t, got.Messages, len(want.Messages))
	assert.Equal(t, "remember me", got.Messages[1].Content)
}

func TestResumeStartsFreshSession(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		f := newFixture(t, withStore(openStore(t)))
		id, err := f.conv.Resume(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, []string{model.RoleSystem}, roles(f.conv.Sessions().History()))
	})

	t.Run("stale current id", func(t *testing.T) {
		store := openStore(t)
		require.NoError(t, store.SaveCurrentSessionID(context.Background(), "gone"))

		f := newFixture(t, withStore(store))
		id, err := f.conv.Resume(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, "gone", id)
	})

	t.Run("no store", func(t *testing.T) {
		f := newFixture(t)
		id, err := f.conv.Resume(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}

func TestLoadSessionWithoutStore(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.conv.LoadSession(context.Background(), "any"), ErrNoStore)
}

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities([]string{" Basic_Stats ", "", "genre_insights"})
	assert.True(t, caps.Has(model.CapabilityBasicStats))
	assert.True(t, caps.Has(model.CapabilityGenreInsights))
	assert.False(t, caps.Has(model.CapabilityHistorySearch))
	assert.Len(t, caps, 2)
}
