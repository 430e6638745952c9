package chat

import (
	"context"
	"errors"
	"fmt"

	"rhythm/model"
	"rhythm/session"
	"rhythm/storage"
)

// storePersister writes installed session snapshots through a storage.Store,
// keeping the name and creation time of an existing record. Snapshots holding
// only system messages are skipped so a session is named after its first
// user message.
type storePersister struct {
	store    storage.Store
	provider func() (name, model string)
}

func (p *storePersister) Persist(ctx context.Context, snap session.Snapshot) error {
	if !hasConversation(snap.Messages) {
		return nil
	}

	sess, err := p.store.Load(ctx, snap.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sess = &storage.Session{ID: snap.ID}
	case err != nil:
		return fmt.Errorf("failed to load session %s: %w", snap.ID, err)
	}

	sess.Messages = snap.Messages
	if p.provider != nil {
		sess.Provider, sess.Model = p.provider()
	}
	return p.store.Save(ctx, sess)
}

func hasConversation(msgs []model.Message) bool {
	for _, m := range msgs {
		if !m.IsSystem() {
			return true
		}
	}
	return false
}

// currentSessionPublisher remembers the active session id across runs.
type currentSessionPublisher struct {
	store storage.Store
}

func (p *currentSessionPublisher) Update(_ string, fields map[string]any) error {
	id, _ := fields["currentSessionId"].(string)
	if id == "" {
		return nil
	}
	return p.store.SaveCurrentSessionID(context.Background(), id)
}
