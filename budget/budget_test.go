package budget

import (
	"context"
	"testing"
	"time"
)

func TestAllocateRelease(t *testing.T) {
	m := NewManager(0)

	b := m.Allocate("tool:get_top_tracks", 0)
	if b.Operation != "tool:get_top_tracks" {
		t.Errorf("Operation = %q", b.Operation)
	}
	if r := b.Remaining(); r <= 0 || r > DefaultTimeout {
		t.Errorf("Remaining() = %v, want within (0, %v]", r, DefaultTimeout)
	}
	if m.Active() != 1 {
		t.Errorf("Active() = %d, want 1", m.Active())
	}

	m.Release(b)
	m.Release(b)
	m.Release(nil)
	if m.Active() != 0 {
		t.Errorf("Active() after release = %d, want 0", m.Active())
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	m := NewManager(time.Second)
	start := time.Now()
	m.now = func() time.Time { return start }

	b := m.Allocate("op", time.Second)
	b.now = func() time.Time { return start.Add(time.Hour) }

	if b.Remaining() != 0 || !b.Expired() {
		t.Errorf("Remaining() = %v, Expired() = %v", b.Remaining(), b.Expired())
	}
}

func TestContextCause(t *testing.T) {
	m := NewManager(time.Second)

	b := m.Allocate("short", 10*time.Millisecond)
	ctx, cancel := b.Context(context.Background())
	defer cancel()
	<-ctx.Done()
	if !IsExceeded(ctx) {
		t.Errorf("expected budget exhaustion, cause = %v", context.Cause(ctx))
	}

	parent, parentCancel := context.WithCancel(context.Background())
	b2 := m.Allocate("long", time.Hour)
	ctx2, cancel2 := b2.Context(parent)
	defer cancel2()
	parentCancel()
	<-ctx2.Done()
	if IsExceeded(ctx2) {
		t.Error("caller cancellation must not look like budget exhaustion")
	}
}
