package storage

import (
	"context"
	"sort"
	"time"
)

// SessionMessageMatch is a search hit across all stored sessions.
type SessionMessageMatch struct {
	SessionID    string
	SessionName  string
	MessageIndex int
	Role         string
	Preview      string
	Timestamp    time.Time
}

// SearchIndex searches message content across every stored session.
type SearchIndex struct {
	store Store
}

func NewSearchIndex(store Store) *SearchIndex {
	return &SearchIndex{store: store}
}

// SearchAllSessions returns matches newest first. Sessions that fail to load
// are skipped.
func (si *SearchIndex) SearchAllSessions(ctx context.Context, query string) ([]SessionMessageMatch, error) {
	if query == "" {
		return []SessionMessageMatch{}, nil
	}

	sessionList, err := si.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []SessionMessageMatch
	for _, meta := range sessionList {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session, err := si.store.Load(ctx, meta.ID)
		if err != nil {
			continue
		}

		for _, m := range SearchMessages(session.Messages, query) {
			matches = append(matches, SessionMessageMatch{
				SessionID:    session.ID,
				SessionName:  session.Name,
				MessageIndex: m.MessageIndex,
				Role:         m.Role,
				Preview:      m.Preview,
				Timestamp:    session.Messages[m.MessageIndex].Timestamp,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	return matches, nil
}
