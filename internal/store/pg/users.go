package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, open_id, email, name, role, tags, cap_grants, cap_revokes, created_at`

func (s *PGUserStore) GetByOpenID(ctx context.Context, openID string) (*store.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE open_id = $1`, openID)
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PGUserStore) SearchByName(ctx context.Context, name string) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name ILIKE '%' || $1 || '%' ORDER BY name`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserRows(rows)
}

func (s *PGUserStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.ID == uuid.Nil {
		user.ID = store.GenNewID()
	}
	user.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, open_id, email, name, role, tags, cap_grants, cap_revokes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.OpenID, nilStr(user.Email), user.Name, user.Role,
		pq.Array(user.Tags), pq.Array(user.CapGrants), pq.Array(user.CapRevokes),
		user.CreatedAt,
	)
	return err
}

// ListByTagWithWorkload computes each tagged user's workload score in SQL:
// the sum of estimated_hours over their pending tasks, defaulting 1.0 per
// task when the estimate is unset.
func (s *PGUserStore) ListByTagWithWorkload(ctx context.Context, tag string) ([]store.UserWorkload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.open_id, u.email, u.name, u.role, u.tags, u.cap_grants, u.cap_revokes, u.created_at,
		 COALESCE(SUM(COALESCE(t.estimated_hours, 1.0)), 0) AS workload
		 FROM users u
		 LEFT JOIN tasks t ON t.assignee_open_id = u.open_id AND t.status = $1
		 WHERE $2 = ANY(u.tags)
		 GROUP BY u.id
		 ORDER BY u.created_at`,
		store.TaskStatusPending, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.UserWorkload
	for rows.Next() {
		var uw store.UserWorkload
		var email sql.NullString
		if err := rows.Scan(
			&uw.User.ID, &uw.User.OpenID, &email, &uw.User.Name, &uw.User.Role,
			pq.Array(&uw.User.Tags), pq.Array(&uw.User.CapGrants), pq.Array(&uw.User.CapRevokes),
			&uw.User.CreatedAt, &uw.Hours,
		); err != nil {
			return nil, fmt.Errorf("scan user workload: %w", err)
		}
		if email.Valid {
			uw.User.Email = email.String
		}
		result = append(result, uw)
	}
	return result, rows.Err()
}

func (s *PGUserStore) ListAll(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserRows(rows)
}

func (s *PGUserStore) getOne(ctx context.Context, query string, arg any) (*store.User, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users, err := scanUserRows(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

func scanUserRows(rows *sql.Rows) ([]store.User, error) {
	var users []store.User
	for rows.Next() {
		var u store.User
		var email sql.NullString
		if err := rows.Scan(
			&u.ID, &u.OpenID, &email, &u.Name, &u.Role,
			pq.Array(&u.Tags), pq.Array(&u.CapGrants), pq.Array(&u.CapRevokes),
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if email.Valid {
			u.Email = email.String
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
