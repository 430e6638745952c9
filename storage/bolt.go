package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketSessions = "sessions"
	bucketState    = "state"
)

// BoltStore keeps sessions as JSON documents in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	s := &BoltStore{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSessions, bucketState} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(_ context.Context, session *Session) error {
	prepare(session)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).Put([]byte(session.ID), data)
	})
}

func (s *BoltStore) Load(_ context.Context, id string) (*Session, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSessions)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(out, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *BoltStore) List(_ context.Context) ([]SessionMetadata, error) {
	var sessions []SessionMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).ForEach(func(_, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				return nil // skip corrupted entries
			}
			sessions = append(sessions, SessionMetadata{
				ID:           session.ID,
				Name:         session.Name,
				Provider:     session.Provider,
				Model:        session.Model,
				CreatedAt:    session.CreatedAt,
				UpdatedAt:    session.UpdatedAt,
				MessageCount: len(session.Messages),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) SaveCurrentSessionID(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put([]byte(currentSessionKey), []byte(id))
	})
}

func (s *BoltStore) LoadCurrentSessionID(_ context.Context) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketState)).Get([]byte(currentSessionKey))
		if v == nil {
			return ErrNotFound
		}
		id = string(v)
		return nil
	})
	return id, err
}
