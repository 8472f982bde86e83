package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

// Append inserts one message and prunes the chat to the most recent limit
// rows in a single transaction. The per-chat advisory lock serializes
// concurrent appends for the same chat so pruning never deletes a row a
// concurrent writer just inserted.
func (s *PGConversationStore) Append(ctx context.Context, msg *store.ConversationMessage, limit int) error {
	if msg.ID == uuid.Nil {
		msg.ID = store.GenNewID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, msg.ChatID); err != nil {
		return fmt.Errorf("lock chat: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, chat_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		msg.ID, msg.ChatID, msg.Role, msg.Content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_messages
			 WHERE chat_id = $1 AND id NOT IN (
				SELECT id FROM conversation_messages
				WHERE chat_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			 )`,
			msg.ChatID, limit); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PGConversationStore) Recent(ctx context.Context, chatID string, limit int) ([]store.ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM (
			SELECT id, chat_id, role, content, created_at
			FROM conversation_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []store.ConversationMessage
	for rows.Next() {
		var m store.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
