package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// DefaultSessionTTL bounds how long a disambiguation dialog stays open.
const DefaultSessionTTL = 5 * time.Minute

// PGSessionStore implements store.SessionStore backed by Postgres. Expiry is
// evaluated server-side (expires_at > now()) so sessions survive process
// restarts and never depend on an in-process timer.
type PGSessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewSessionStore(db *sql.DB, ttl time.Duration) *PGSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &PGSessionStore{db: db, ttl: ttl}
}

func (s *PGSessionStore) Get(ctx context.Context, key string) (*store.DialogSession, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM bot_sessions WHERE session_key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess store.DialogSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Key = key
	return &sess, nil
}

// Put upserts the session and advances expires_at by the store TTL. A new
// session for an existing key overwrites the old one.
func (s *PGSessionStore) Put(ctx context.Context, sess *store.DialogSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bot_sessions (session_key, data, expires_at)
		 VALUES ($1, $2, now() + $3 * interval '1 second')
		 ON CONFLICT (session_key) DO UPDATE
		 SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		sess.Key, data, int(s.ttl.Seconds()),
	)
	return err
}

func (s *PGSessionStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_sessions WHERE session_key = $1`, key)
	return err
}
