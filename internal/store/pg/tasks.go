package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// PGTaskStore implements store.TaskStore backed by Postgres.
type PGTaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *PGTaskStore {
	return &PGTaskStore{db: db}
}

func (s *PGTaskStore) CreateTask(ctx context.Context, task *store.Task) error {
	if task.ID == uuid.Nil {
		task.ID = store.GenNewID()
	}
	if task.Status == "" {
		task.Status = store.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = store.TaskPriorityP1
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, assignee_open_id, assignee_contact, reporter_open_id,
		 deadline, status, priority, reminder_interval_hours, estimated_hours, note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		task.ID, task.Title, task.AssigneeOpenID, nilStr(task.AssigneeContact), nilStr(task.ReporterOpenID),
		task.Deadline, task.Status, task.Priority, task.ReminderIntervalHours,
		task.EstimatedHours, nilStr(task.Note), now, now,
	)
	return err
}

func (s *PGTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*store.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, assignee_open_id, assignee_contact, reporter_open_id,
		 deadline, status, priority, reminder_interval_hours, estimated_hours,
		 last_reminded_at, note, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrNotFound
	}
	return &tasks[0], nil
}

func (s *PGTaskStore) ListPendingByAssignee(ctx context.Context, openID string) ([]store.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, assignee_open_id, assignee_contact, reporter_open_id,
		 deadline, status, priority, reminder_interval_hours, estimated_hours,
		 last_reminded_at, note, created_at, updated_at
		 FROM tasks
		 WHERE assignee_open_id = $1 AND status = $2
		 ORDER BY deadline ASC NULLS LAST, created_at ASC`,
		openID, store.TaskStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// CompleteTask marks a pending task completed. The status guard in the WHERE
// clause makes the transition one-way: a second completion attempt matches
// zero rows and reports ErrNotFound.
func (s *PGTaskStore) CompleteTask(ctx context.Context, id uuid.UUID, proof string) error {
	note := ""
	if proof != "" {
		note = "proof: " + proof
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, note = COALESCE(NULLIF($2, ''), note), updated_at = $3
		 WHERE id = $4 AND status = $5`,
		store.TaskStatusCompleted, note, time.Now(),
		id, store.TaskStatusPending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGTaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanTaskRows(rows *sql.Rows) ([]store.Task, error) {
	var tasks []store.Task
	for rows.Next() {
		var t store.Task
		var assigneeContact, reporterOpenID, note sql.NullString
		var deadline, lastRemindedAt sql.NullTime
		var estimatedHours sql.NullFloat64
		if err := rows.Scan(
			&t.ID, &t.Title, &t.AssigneeOpenID, &assigneeContact, &reporterOpenID,
			&deadline, &t.Status, &t.Priority, &t.ReminderIntervalHours, &estimatedHours,
			&lastRemindedAt, &note, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if assigneeContact.Valid {
			t.AssigneeContact = assigneeContact.String
		}
		if reporterOpenID.Valid {
			t.ReporterOpenID = reporterOpenID.String
		}
		if note.Valid {
			t.Note = note.String
		}
		if deadline.Valid {
			d := deadline.Time
			t.Deadline = &d
		}
		if lastRemindedAt.Valid {
			lr := lastRemindedAt.Time
			t.LastRemindedAt = &lr
		}
		if estimatedHours.Valid {
			eh := estimatedHours.Float64
			t.EstimatedHours = &eh
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
