package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rhythm/functions"
	"rhythm/model"
	"rhythm/session"
	"rhythm/storage"
)

func TestBuildSystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		streams  []functions.Stream
		tools    []string
		contains []string
		excludes []string
	}{
		{
			name:     "with data and tools",
			streams:  testStreams(),
			tools:    []string{"get_top_tracks", "search_history"},
			contains: []string{"DATASET: 3 plays of 2 tracks by 2 artists", "Mar 1, 2024", "TOOLS: get_top_tracks, search_history"},
		},
		{
			name:     "no data",
			tools:    []string{"get_top_tracks"},
			contains: []string{"no streaming history is loaded", "chat.streams_file"},
		},
		{
			name:     "no tools",
			streams:  testStreams(),
			excludes: []string{"TOOLS:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSystemPrompt(tt.streams, tt.tools)
			if !strings.HasPrefix(got, assistantRole) {
				t.Errorf("prompt does not start with the role line: %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("prompt missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("prompt should not contain %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestDescribeDatasetSkipsEpisodes(t *testing.T) {
	streams := append(testStreams(), functions.Stream{Timestamp: testStreams()[0].Timestamp, MsPlayed: 60000})
	got := describeDataset(streams)
	if !strings.Contains(got, "4 plays of 2 tracks by 2 artists") {
		t.Errorf("describeDataset() = %q", got)
	}
}

func TestDatasetVersion(t *testing.T) {
	if v := NewDataset(nil).Version(); v != "" {
		t.Errorf("empty dataset version = %q, want empty", v)
	}

	d := NewDataset(testStreams())
	if want := "3@2024-03-01T14:00:00Z"; d.Version() != want {
		t.Errorf("Version() = %q, want %q", d.Version(), want)
	}

	msg, err := d.TagMessage(model.Message{Role: model.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("TagMessage() error = %v", err)
	}
	if msg.DataVersion != d.Version() {
		t.Errorf("DataVersion = %q, want %q", msg.DataVersion, d.Version())
	}

	var nilDataset *Dataset
	if nilDataset.Len() != 0 || nilDataset.StreamsData() != nil {
		t.Error("nil dataset should be empty")
	}
}

func TestLoadDataset(t *testing.T) {
	d, err := LoadDataset("")
	if err != nil || d.Len() != 0 {
		t.Fatalf("LoadDataset(\"\") = %v, %v", d, err)
	}

	path := filepath.Join(t.TempDir(), "history.json")
	data, err := json.Marshal(testStreams())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	d, err = LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset() error = %v", err)
	}
	if d.Len() != 3 {
		t.Errorf("Len() = %d, want 3", d.Len())
	}

	if _, err := LoadDataset(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStorePersisterKeepsExistingName(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, &storage.Session{ID: "s1", Name: "Renamed"}); err != nil {
		t.Fatal(err)
	}

	p := &storePersister{store: store, provider: func() (string, string) { return "ollama", "llama3.1:latest" }}
	snap := session.Snapshot{ID: "s1", Messages: []model.Message{
		{Role: model.RoleSystem, Content: "prompt"},
		{Role: model.RoleUser, Content: "first question"},
	}}
	if err := p.Persist(ctx, snap); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
	if got.Provider != "ollama" || got.Model != "llama3.1:latest" {
		t.Errorf("provider/model = %s/%s", got.Provider, got.Model)
	}
	if len(got.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(got.Messages))
	}
}

func TestStorePersisterSkipsSystemOnlySnapshots(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	p := &storePersister{store: store}
	snap := session.Snapshot{ID: "s2", Messages: []model.Message{{Role: model.RoleSystem, Content: "prompt"}}}
	if err := p.Persist(ctx, snap); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if _, err := store.Load(ctx, "s2"); err != storage.ErrNotFound {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestCurrentSessionPublisher(t *testing.T) {
	store := openStore(t)
	p := &currentSessionPublisher{store: store}

	if err := p.Update("ui", map[string]any{"currentSessionId": ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadCurrentSessionID(context.Background()); err != storage.ErrNotFound {
		t.Errorf("empty id should not be saved, got %v", err)
	}

	if err := p.Update("ui", map[string]any{"currentSessionId": "abc"}); err != nil {
		t.Fatal(err)
	}
	id, err := store.LoadCurrentSessionID(context.Background())
	if err != nil || id != "abc" {
		t.Errorf("LoadCurrentSessionID() = %q, %v", id, err)
	}
}
