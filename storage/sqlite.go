package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		messages TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE TABLE IF NOT EXISTS app_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds columns introduced after the first release.
func (s *SQLiteStore) migrateSchema() error {
	hasProvider, err := s.columnExists("sessions", "provider")
	if err != nil {
		return fmt.Errorf("failed to check for provider column: %w", err)
	}

	if !hasProvider {
		if _, err := s.db.Exec(`ALTER TABLE sessions ADD COLUMN provider TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add provider column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (s *SQLiteStore) columnExists(tableName, columnName string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, session *Session) error {
	prepare(session)

	data, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO sessions (id, name, provider, model, message_count, messages, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.Name,
		session.Provider,
		session.Model,
		len(session.Messages),
		string(data),
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	query := `
	SELECT id, name, provider, model, messages, created_at, updated_at
	FROM sessions
	WHERE id = ?
	`

	var session Session
	var data string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Name,
		&session.Provider,
		&session.Model,
		&data,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &session.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	return &session, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]SessionMetadata, error) {
	query := `
	SELECT id, name, provider, model, message_count, created_at, updated_at
	FROM sessions
	ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionMetadata
	for rows.Next() {
		var meta SessionMetadata
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.Provider, &meta.Model, &meta.MessageCount, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, meta)
	}

	return sessions, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const currentSessionKey = "current_session_id"

func (s *SQLiteStore) SaveCurrentSessionID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)`, currentSessionKey, id)
	return err
}

func (s *SQLiteStore) LoadCurrentSessionID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, currentSessionKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
