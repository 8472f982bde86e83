package pg

import (
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// NewPGStores creates all stores backed by one Postgres connection pool.
func NewPGStores(db *sql.DB, sessionTTL time.Duration) *store.Stores {
	return &store.Stores{
		Tasks:         NewTaskStore(db),
		Users:         NewUserStore(db),
		Sessions:      NewSessionStore(db, sessionTTL),
		Conversations: NewConversationStore(db),
	}
}
