// Package budget hands out deadlines for individual operations.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// ErrExceeded is the context cause when a budget runs out.
var ErrExceeded = errors.New("time budget exceeded")

// Budget is a deadline allocated to one operation.
type Budget struct {
	ID        uint64
	Operation string
	Deadline  time.Time

	now func() time.Time
}

// Remaining returns the time left, never negative.
func (b *Budget) Remaining() time.Duration {
	d := b.Deadline.Sub(b.now())
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the deadline has passed.
func (b *Budget) Expired() bool {
	return b.Remaining() == 0
}

// Context derives a context that is cancelled with cause ErrExceeded when the
// budget runs out, or earlier if parent is done.
func (b *Budget) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadlineCause(parent, b.Deadline, ErrExceeded)
}

// Manager tracks outstanding budgets.
type Manager struct {
	mu             sync.Mutex
	defaultTimeout time.Duration
	next           uint64
	active         map[uint64]*Budget
	now            func() time.Time
}

// NewManager creates a manager. A non-positive default uses DefaultTimeout.
func NewManager(defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Manager{
		defaultTimeout: defaultTimeout,
		active:         make(map[uint64]*Budget),
		now:            time.Now,
	}
}

// Allocate reserves a budget of d for op. d <= 0 uses the manager default.
func (m *Manager) Allocate(op string, d time.Duration) *Budget {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d <= 0 {
		d = m.defaultTimeout
	}
	m.next++
	b := &Budget{
		ID:        m.next,
		Operation: op,
		Deadline:  m.now().Add(d),
		now:       m.now,
	}
	m.active[b.ID] = b
	return b
}

// Release returns a budget. Releasing twice or releasing nil is a no-op.
func (m *Manager) Release(b *Budget) {
	if b == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, b.ID)
}

// Active returns the number of unreleased budgets.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// IsExceeded reports whether ctx ended because its budget ran out rather than
// because a caller cancelled it.
func IsExceeded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrExceeded)
}
