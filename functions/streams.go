package functions

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Stream is one playback record from a streaming-history export.
type Stream struct {
	Timestamp  time.Time `json:"ts"`
	MsPlayed   int64     `json:"ms_played"`
	TrackName  string    `json:"master_metadata_track_name"`
	ArtistName string    `json:"master_metadata_album_artist_name"`
	AlbumName  string    `json:"master_metadata_album_album_name"`
	Skipped    bool      `json:"skipped"`
	// Genres is optional enrichment; plain exports leave it empty.
	Genres []string `json:"genres,omitempty"`
}

// IsTrack reports whether the record is a music track (podcast episodes have
// no track metadata).
func (s Stream) IsTrack() bool {
	return s.TrackName != "" && s.ArtistName != ""
}

// LoadStreams reads a JSON array of streams and returns them sorted by time.
func LoadStreams(path string) ([]Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open streaming history: %w", err)
	}
	defer f.Close()

	var streams []Stream
	if err := json.NewDecoder(f).Decode(&streams); err != nil {
		return nil, fmt.Errorf("failed to parse streaming history: %w", err)
	}

	sort.SliceStable(streams, func(i, j int) bool {
		return streams[i].Timestamp.Before(streams[j].Timestamp)
	})

	return streams, nil
}

// DateRange returns the first and last timestamps in streams.
func DateRange(streams []Stream) (time.Time, time.Time) {
	var first, last time.Time
	for _, s := range streams {
		if first.IsZero() || s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
	}
	return first, last
}
