package functions

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/sahilm/fuzzy"

	"rhythm/model"
)

// Time ranges accepted by the aggregation tools.
const (
	RangeShortTerm  = "short_term"
	RangeMediumTerm = "medium_term"
	RangeLongTerm   = "long_term"
	RangeAllTime    = "all_time"
)

const (
	defaultLimit = 10
	maxLimit     = 50

	// checkEvery is how many streams a handler scans between context checks.
	checkEvery = 1000
)

var timeRanges = []string{RangeShortTerm, RangeMediumTerm, RangeLongTerm, RangeAllTime}

// TrackStat is one entry of get_top_tracks.
type TrackStat struct {
	TrackName     string  `json:"trackName"`
	ArtistName    string  `json:"artistName"`
	AlbumName     string  `json:"albumName,omitempty"`
	PlayCount     int     `json:"playCount"`
	MinutesPlayed float64 `json:"minutesPlayed"`
}

// ArtistStat is one entry of get_top_artists.
type ArtistStat struct {
	ArtistName    string  `json:"artistName"`
	PlayCount     int     `json:"playCount"`
	UniqueTracks  int     `json:"uniqueTracks"`
	MinutesPlayed float64 `json:"minutesPlayed"`
}

// ListeningStats is the result of get_listening_stats.
type ListeningStats struct {
	TimeRange     string  `json:"timeRange"`
	TotalStreams  int     `json:"totalStreams"`
	TotalMinutes  float64 `json:"totalMinutes"`
	UniqueTracks  int     `json:"uniqueTracks"`
	UniqueArtists int     `json:"uniqueArtists"`
	SkipRate      float64 `json:"skipRate"`
	PeakHour      int     `json:"peakHour"`
	FirstListen   string  `json:"firstListen,omitempty"`
	LastListen    string  `json:"lastListen,omitempty"`
}

// GenreShare is one entry of get_genre_distribution.
type GenreShare struct {
	Genre      string  `json:"genre"`
	PlayCount  int     `json:"playCount"`
	Percentage float64 `json:"percentage"`
}

// SearchMatch is one entry of search_history.
type SearchMatch struct {
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	PlayCount  int    `json:"playCount"`
	LastPlayed string `json:"lastPlayed"`
}

func limitProperty() map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": fmt.Sprintf("Number of results to return (1-%d, default %d)", maxLimit, defaultLimit),
		"minimum":     1,
		"maximum":     maxLimit,
	}
}

func timeRangeProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Period to analyse: short_term (last 4 weeks), medium_term (last 6 months), long_term or all_time",
		"enum":        timeRanges,
	}
}

func topTracksTool() Tool {
	return Tool{
		Schema: mcptypes.Tool{
			Name:        "get_top_tracks",
			Description: "Get the user's most played tracks",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit":      limitProperty(),
					"time_range": timeRangeProperty(),
				},
			},
		},
		Requires: []model.Capability{model.CapabilityBasicStats},
		Handler:  topTracks,
	}
}

func topArtistsTool() Tool {
	return Tool{
		Schema: mcptypes.Tool{
			Name:        "get_top_artists",
			Description: "Get the user's most played artists",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit":      limitProperty(),
					"time_range": timeRangeProperty(),
				},
			},
		},
		Requires: []model.Capability{model.CapabilityBasicStats},
		Handler:  topArtists,
	}
}

func listeningStatsTool() Tool {
	return Tool{
		Schema: mcptypes.Tool{
			Name:        "get_listening_stats",
			Description: "Get overall listening statistics such as total minutes, unique artists and skip rate",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"time_range": timeRangeProperty(),
				},
			},
		},
		Requires: []model.Capability{model.CapabilityBasicStats},
		Handler:  listeningStats,
	}
}

func genreDistributionTool() Tool {
	return Tool{
		Schema: mcptypes.Tool{
			Name:        "get_genre_distribution",
			Description: "Get the share of listening per genre",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit":      limitProperty(),
					"time_range": timeRangeProperty(),
				},
			},
		},
		Requires: []model.Capability{model.CapabilityGenreInsights},
		Handler:  genreDistribution,
	}
}

func searchHistoryTool() Tool {
	return Tool{
		Schema: mcptypes.Tool{
			Name:        "search_history",
			Description: "Search the listening history for tracks or artists matching a query",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Track or artist name to look for",
					},
					"limit": limitProperty(),
				},
				Required: []string{"query"},
			},
		},
		Requires: []model.Capability{model.CapabilityHistorySearch},
		Handler:  searchHistory,
	}
}

// parseLimit reads the optional "limit" argument.
func parseLimit(args map[string]any) (int, string) {
	raw, ok := args["limit"]
	if !ok || raw == nil {
		return defaultLimit, ""
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, fmt.Sprintf("limit must be a number, got %T", raw)
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, "limit must be a whole number"
	}
	if f < 1 || f > maxLimit {
		return 0, fmt.Sprintf("limit must be between 1 and %d", maxLimit)
	}
	return int(f), ""
}

// parseTimeRange reads the optional "time_range" argument.
func parseTimeRange(args map[string]any) (string, string) {
	raw, ok := args["time_range"]
	if !ok || raw == nil {
		return RangeMediumTerm, ""
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Sprintf("time_range must be a string, got %T", raw)
	}
	for _, r := range timeRanges {
		if s == r {
			return s, ""
		}
	}
	return "", fmt.Sprintf("time_range must be one of %s", strings.Join(timeRanges, ", "))
}

func validation(problems ...string) *Result {
	var out []string
	for _, p := range problems {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Result{ValidationErrors: out}
}

// filterRange keeps streams inside timeRange, measured back from the most
// recent stream rather than the wall clock so old exports stay useful.
func filterRange(ctx context.Context, streams []Stream, timeRange string) ([]Stream, error) {
	var window time.Duration
	switch timeRange {
	case RangeShortTerm:
		window = 28 * 24 * time.Hour
	case RangeMediumTerm:
		window = 182 * 24 * time.Hour
	default:
		return streams, nil
	}

	_, last := DateRange(streams)
	cutoff := last.Add(-window)

	out := make([]Stream, 0, len(streams))
	for i, s := range streams {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func minutes(ms int64) float64 {
	return math.Round(float64(ms)/600) / 100
}

func topTracks(ctx context.Context, args map[string]any, streams []Stream) (*Result, error) {
	limit, limitErr := parseLimit(args)
	timeRange, rangeErr := parseTimeRange(args)
	if res := validation(limitErr, rangeErr); res != nil {
		return res, nil
	}

	filtered, err := filterRange(ctx, streams, timeRange)
	if err != nil {
		return nil, err
	}

	type key struct{ track, artist string }
	stats := make(map[key]*TrackStat)
	ms := make(map[key]int64)
	for i, s := range filtered {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !s.IsTrack() {
			continue
		}
		k := key{s.TrackName, s.ArtistName}
		st, ok := stats[k]
		if !ok {
			st = &TrackStat{TrackName: s.TrackName, ArtistName: s.ArtistName, AlbumName: s.AlbumName}
			stats[k] = st
		}
		st.PlayCount++
		ms[k] += s.MsPlayed
	}

	out := make([]TrackStat, 0, len(stats))
	for k, st := range stats {
		st.MinutesPlayed = minutes(ms[k])
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayCount != out[j].PlayCount {
			return out[i].PlayCount > out[j].PlayCount
		}
		if out[i].MinutesPlayed != out[j].MinutesPlayed {
			return out[i].MinutesPlayed > out[j].MinutesPlayed
		}
		return out[i].TrackName < out[j].TrackName
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return &Result{Data: out}, nil
}

func topArtists(ctx context.Context, args map[string]any, streams []Stream) (*Result, error) {
	limit, limitErr := parseLimit(args)
	timeRange, rangeErr := parseTimeRange(args)
	if res := validation(limitErr, rangeErr); res != nil {
		return res, nil
	}

	filtered, err := filterRange(ctx, streams, timeRange)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*ArtistStat)
	ms := make(map[string]int64)
	tracks := make(map[string]map[string]struct{})
	for i, s := range filtered {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !s.IsTrack() {
			continue
		}
		st, ok := stats[s.ArtistName]
		if !ok {
			st = &ArtistStat{ArtistName: s.ArtistName}
			stats[s.ArtistName] = st
			tracks[s.ArtistName] = make(map[string]struct{})
		}
		st.PlayCount++
		ms[s.ArtistName] += s.MsPlayed
		tracks[s.ArtistName][s.TrackName] = struct{}{}
	}

	out := make([]ArtistStat, 0, len(stats))
	for name, st := range stats {
		st.MinutesPlayed = minutes(ms[name])
		st.UniqueTracks = len(tracks[name])
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayCount != out[j].PlayCount {
			return out[i].PlayCount > out[j].PlayCount
		}
		return out[i].ArtistName < out[j].ArtistName
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return &Result{Data: out}, nil
}

func listeningStats(ctx context.Context, args map[string]any, streams []Stream) (*Result, error) {
	timeRange, rangeErr := parseTimeRange(args)
	if res := validation(rangeErr); res != nil {
		return res, nil
	}

	filtered, err := filterRange(ctx, streams, timeRange)
	if err != nil {
		return nil, err
	}
	if len(filtered) == 0 {
		return &Result{Empty: true}, nil
	}

	var (
		totalMs int64
		skipped int
		hours   [24]int
	)
	tracks := make(map[string]struct{})
	artists := make(map[string]struct{})
	for i, s := range filtered {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		totalMs += s.MsPlayed
		if s.Skipped {
			skipped++
		}
		hours[s.Timestamp.Hour()]++
		if s.IsTrack() {
			tracks[s.TrackName+"\x00"+s.ArtistName] = struct{}{}
			artists[s.ArtistName] = struct{}{}
		}
	}

	peak := 0
	for h := range hours {
		if hours[h] > hours[peak] {
			peak = h
		}
	}

	first, last := DateRange(filtered)
	return &Result{Data: ListeningStats{
		TimeRange:     timeRange,
		TotalStreams:  len(filtered),
		TotalMinutes:  minutes(totalMs),
		UniqueTracks:  len(tracks),
		UniqueArtists: len(artists),
		SkipRate:      math.Round(float64(skipped)/float64(len(filtered))*1000) / 1000,
		PeakHour:      peak,
		FirstListen:   first.Format(time.DateOnly),
		LastListen:    last.Format(time.DateOnly),
	}}, nil
}

func genreDistribution(ctx context.Context, args map[string]any, streams []Stream) (*Result, error) {
	limit, limitErr := parseLimit(args)
	timeRange, rangeErr := parseTimeRange(args)
	if res := validation(limitErr, rangeErr); res != nil {
		return res, nil
	}

	filtered, err := filterRange(ctx, streams, timeRange)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	total := 0
	for i, s := range filtered {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, g := range s.Genres {
			g = strings.ToLower(strings.TrimSpace(g))
			if g == "" {
				continue
			}
			counts[g]++
			total++
		}
	}
	if total == 0 {
		return &Result{Empty: true}, nil
	}

	out := make([]GenreShare, 0, len(counts))
	for g, n := range counts {
		out = append(out, GenreShare{
			Genre:      g,
			PlayCount:  n,
			Percentage: math.Round(float64(n)/float64(total)*1000) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlayCount != out[j].PlayCount {
			return out[i].PlayCount > out[j].PlayCount
		}
		return out[i].Genre < out[j].Genre
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return &Result{Data: out}, nil
}

func searchHistory(ctx context.Context, args map[string]any, streams []Stream) (*Result, error) {
	limit, limitErr := parseLimit(args)
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	queryErr := ""
	if query == "" {
		queryErr = "query is required"
	}
	if res := validation(queryErr, limitErr); res != nil {
		return res, nil
	}

	type entry struct {
		match SearchMatch
		last  time.Time
	}
	var (
		labels  []string
		entries []*entry
	)
	index := make(map[string]int)
	for i, s := range streams {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !s.IsTrack() {
			continue
		}
		label := s.TrackName + " - " + s.ArtistName
		idx, ok := index[label]
		if !ok {
			idx = len(entries)
			index[label] = idx
			labels = append(labels, label)
			entries = append(entries, &entry{match: SearchMatch{TrackName: s.TrackName, ArtistName: s.ArtistName}})
		}
		e := entries[idx]
		e.match.PlayCount++
		if s.Timestamp.After(e.last) {
			e.last = s.Timestamp
		}
	}

	matches := fuzzy.Find(query, labels)
	if len(matches) == 0 {
		return &Result{Empty: true}, nil
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]SearchMatch, 0, len(matches))
	for _, m := range matches {
		e := entries[m.Index]
		e.match.LastPlayed = e.last.Format(time.DateOnly)
		out = append(out, e.match)
	}
	return &Result{Data: out}, nil
}
