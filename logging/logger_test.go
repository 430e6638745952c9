package logging

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"console debug", "debug", "console"},
		{"json info", "info", "json"},
		{"bad level falls back", "loud", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, tt.format)
			if err != nil {
				t.Fatalf("New(%q, %q) error: %v", tt.level, tt.format, err)
			}
			if l == nil {
				t.Fatal("New returned nil logger")
			}
			l.Named("test").With("k", "v").Debugw("hello")
		})
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
