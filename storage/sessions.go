package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rhythm/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("storage: not found")

// Session represents a persisted chat session
type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []model.Message `json:"messages"`
}

// SessionMetadata is a lightweight version of Session for listing
type SessionMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	// List returns metadata sorted by update time, newest first.
	List(ctx context.Context) ([]SessionMetadata, error)
	Delete(ctx context.Context, id string) error
	SaveCurrentSessionID(ctx context.Context, id string) error
	LoadCurrentSessionID(ctx context.Context) (string, error)
	Close() error
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Open opens the session store for driver inside dataDir.
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(filepath.Join(dataDir, "sessions.db"))
	case DriverBolt:
		return NewBoltStore(filepath.Join(dataDir, "sessions.bolt"))
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// prepare fills in the id and timestamps before a save.
func prepare(session *Session) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	session.UpdatedAt = time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}
	if session.Name == "" {
		session.Name = GenerateSessionName(firstUserMessage(session.Messages))
	}
}

func firstUserMessage(msgs []model.Message) string {
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			return m.Content
		}
	}
	return ""
}

// GenerateSessionName generates a session name from the first user message
func GenerateSessionName(firstMessage string) string {
	fallback := fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))

	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fallback
	}

	runes := []rune(name)
	if len(runes) > 30 {
		name = string(runes[:30]) + "..."
	}

	return name
}

// MessageMatch represents a search result within a session
type MessageMatch struct {
	MessageIndex int
	Role         string
	Preview      string
}

// SearchMessages finds non-system messages containing query, case-insensitively.
func SearchMessages(messages []model.Message, query string) []MessageMatch {
	if query == "" {
		return []MessageMatch{}
	}

	queryLower := strings.ToLower(query)
	var matches []MessageMatch

	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		if strings.Contains(strings.ToLower(msg.Content), queryLower) {
			preview := msg.Content
			if r := []rune(preview); len(r) > 100 {
				preview = string(r[:100]) + "..."
			}

			matches = append(matches, MessageMatch{
				MessageIndex: i,
				Role:         msg.Role,
				Preview:      preview,
			})
		}
	}

	return matches
}
