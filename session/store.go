// Package session holds the active conversation with optimistic concurrency.
//
// All mutations run one at a time, in arrival order, inside a FIFO critical
// section. Reads never block: they return deep copies of the last installed
// snapshot together with its version. Writers that pass an expected version
// fail without mutating when another writer got there first.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"rhythm/logging"
	"rhythm/model"
)

// DefaultWindow is the number of non-system messages kept in memory.
const DefaultWindow = 200

// Snapshot is an immutable view of the session. Get returns a deep copy, so
// holders may keep it across later mutations.
type Snapshot struct {
	ID       string          `json:"id"`
	Messages []model.Message `json:"messages"`
	Version  int64           `json:"_version"`
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{ID: s.ID, Messages: model.CloneMessages(s.Messages), Version: s.Version}
}

// UpdateResult reports the outcome of Update.
type UpdateResult struct {
	Success bool
	Version int64
}

// Updater derives the next session state from the current one. Returning an
// error leaves the session untouched.
type Updater func(current Snapshot) (Snapshot, error)

// Tagger stamps a message right before it is inserted. Errors are ignored and
// the untagged message is stored.
type Tagger interface {
	TagMessage(msg model.Message) (model.Message, error)
}

// StatePublisher receives the current session id whenever it changes.
type StatePublisher interface {
	Update(scope string, fields map[string]any) error
}

// Persister saves installed snapshots. Failures are logged, never returned.
type Persister interface {
	Persist(ctx context.Context, snap Snapshot) error
}

// ErrVersionConflict is returned by Update when the expected version is stale.
var ErrVersionConflict = errors.New("session: version conflict")

var errInvalidIndex = errors.New("session: index out of range")

// Store is the session state store.
type Store struct {
	mu    *semaphore.Weighted
	state atomic.Pointer[Snapshot]

	window    int
	tagger    Tagger
	publisher StatePublisher
	persister Persister
	log       *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithWindow overrides the in-memory window size.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithTagger(t Tagger) Option { return func(s *Store) { s.tagger = t } }

func WithPublisher(p StatePublisher) Option { return func(s *Store) { s.publisher = p } }

func WithPersister(p Persister) Option { return func(s *Store) { s.persister = p } }

func WithLogger(l *logging.Logger) Option { return func(s *Store) { s.log = l } }

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		mu:     semaphore.NewWeighted(1),
		window: DefaultWindow,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).Named("session")
	s.state.Store(&Snapshot{Messages: []model.Message{}})
	return s
}

func (s *Store) current() *Snapshot {
	return s.state.Load()
}

// Get returns a deep copy of the current session, including its version.
func (s *Store) Get() Snapshot {
	return s.current().clone()
}

// CurrentID returns the active session id.
func (s *Store) CurrentID() string {
	return s.current().ID
}

// History returns a copy of the message history.
func (s *Store) History() []model.Message {
	return model.CloneMessages(s.current().Messages)
}

func (s *Store) lock(ctx context.Context) error {
	return s.mu.Acquire(ctx, 1)
}

func (s *Store) unlock() {
	s.mu.Release(1)
}

// Set replaces the session wholesale and resets the version to 0.
func (s *Store) Set(ctx context.Context, id string, msgs []model.Message) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	prev := s.current()
	next := &Snapshot{
		ID:       id,
		Messages: ApplyWindow(model.CloneMessages(msgs), s.window),
		Version:  0,
	}
	s.install(ctx, prev, next)
	return nil
}

// UpdateOption configures a single Update call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	expected    int64
	hasExpected bool
}

// WithExpectedVersion makes Update fail unless the session is still at v.
func WithExpectedVersion(v int64) UpdateOption {
	return func(o *updateOptions) {
		o.expected = v
		o.hasExpected = true
	}
}

// Update applies fn inside the critical section. With WithExpectedVersion, a
// stale version returns {false, current} and ErrVersionConflict without
// calling fn. On success the window policy is applied, the version is
// incremented and {true, new} is returned.
func (s *Store) Update(ctx context.Context, fn Updater, opts ...UpdateOption) (UpdateResult, error) {
	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := s.lock(ctx); err != nil {
		return UpdateResult{Version: s.current().Version}, err
	}
	defer s.unlock()

	prev := s.current()
	if o.hasExpected && o.expected != prev.Version {
		s.log.Debugw("rejected stale update", "expected", o.expected, "current", prev.Version)
		return UpdateResult{Success: false, Version: prev.Version}, ErrVersionConflict
	}

	next, err := fn(prev.clone())
	if err != nil {
		return UpdateResult{Success: false, Version: prev.Version}, err
	}

	installed := &Snapshot{
		ID:       next.ID,
		Messages: ApplyWindow(model.CloneMessages(next.Messages), s.window),
		Version:  prev.Version + 1,
	}
	s.install(ctx, prev, installed)

	return UpdateResult{Success: true, Version: installed.Version}, nil
}

// install swaps in next and runs the publish and persist hooks. Callers hold
// the lock.
func (s *Store) install(ctx context.Context, prev, next *Snapshot) {
	s.state.Store(next)

	if prev.ID != next.ID {
		s.publishID(next.ID)
	}

	if s.persister != nil && next.ID != "" {
		if err := s.persister.Persist(ctx, next.clone()); err != nil {
			s.log.Warnw("failed to persist session", "session_id", next.ID, "error", err)
		}
	}
}

func (s *Store) publishID(id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Update("ui", map[string]any{"currentSessionId": id}); err != nil {
		s.log.Warnw("failed to publish session id", "session_id", id, "error", err)
	}
}

func (s *Store) tag(msg model.Message) model.Message {
	if s.tagger == nil {
		return msg
	}
	tagged, err := s.tagger.TagMessage(msg)
	if err != nil {
		s.log.Debugw("message tagging failed", "role", msg.Role, "error", err)
		return msg
	}
	return tagged
}

func (s *Store) tagAll(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = s.tag(m.Clone())
	}
	return out
}

func (s *Store) apply(ctx context.Context, fn Updater) bool {
	res, err := s.Update(ctx, fn)
	if err != nil && !errors.Is(err, errInvalidIndex) {
		s.log.Debugw("session update failed", "error", err)
	}
	return res.Success
}

// Add appends one message.
func (s *Store) Add(ctx context.Context, msg model.Message) bool {
	return s.AddMany(ctx, []model.Message{msg})
}

// AddMany appends messages in order.
func (s *Store) AddMany(ctx context.Context, msgs []model.Message) bool {
	return s.apply(ctx, func(cur Snapshot) (Snapshot, error) {
		cur.Messages = append(cur.Messages, s.tagAll(msgs)...)
		return cur, nil
	})
}

// Remove deletes the message at idx. Indices outside [0, len) return false
// without mutating.
func (s *Store) Remove(ctx context.Context, idx int) bool {
	return s.apply(ctx, func(cur Snapshot) (Snapshot, error) {
		if idx < 0 || idx >= len(cur.Messages) {
			return cur, errInvalidIndex
		}
		cur.Messages = append(cur.Messages[:idx], cur.Messages[idx+1:]...)
		return cur, nil
	})
}

// Truncate keeps the first n messages. n outside [0, len] returns false.
func (s *Store) Truncate(ctx context.Context, n int) bool {
	return s.apply(ctx, func(cur Snapshot) (Snapshot, error) {
		if n < 0 || n > len(cur.Messages) {
			return cur, errInvalidIndex
		}
		cur.Messages = cur.Messages[:n]
		return cur, nil
	})
}

// Replace swaps the whole history, keeping the session id.
func (s *Store) Replace(ctx context.Context, msgs []model.Message) bool {
	return s.apply(ctx, func(cur Snapshot) (Snapshot, error) {
		cur.Messages = s.tagAll(msgs)
		return cur, nil
	})
}

// Clear empties the history, keeping the session id.
func (s *Store) Clear(ctx context.Context) bool {
	return s.apply(ctx, func(cur Snapshot) (Snapshot, error) {
		cur.Messages = []model.Message{}
		return cur, nil
	})
}

// ApplyWindow drops the oldest non-system messages until at most limit remain.
// System messages are never dropped and keep their positions. Tool results
// left at the cut without their assistant request are dropped too.
func ApplyWindow(msgs []model.Message, limit int) []model.Message {
	if limit <= 0 {
		return msgs
	}

	nonSystem := 0
	for _, m := range msgs {
		if !m.IsSystem() {
			nonSystem++
		}
	}
	drop := nonSystem - limit
	if drop <= 0 {
		return msgs
	}

	out := make([]model.Message, 0, len(msgs)-drop)
	trimming := true
	for _, m := range msgs {
		if trimming && !m.IsSystem() {
			if drop > 0 {
				drop--
				continue
			}
			if m.Role == model.RoleTool {
				continue
			}
			trimming = false
		}
		out = append(out, m)
	}
	return out
}
