// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ErrTaskNotFound is returned for lookups of unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is applied on startup. Conversation snapshots are stored whole as
// JSONB; they are read and written atomically, never queried into.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	objective  TEXT NOT NULL,
	start_url  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS task_states (
	task_id  TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
	snapshot JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS ui_messages (
	id         BIGSERIAL PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ui_messages_task_idx ON ui_messages (task_id, id);
`

// PostgresStore persists tasks and conversation state in PostgreSQL.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.TaskStore = (*PostgresStore)(nil)

// NewPostgres verifies the connection and ensures the schema exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task schemas.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, objective, start_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET objective = EXCLUDED.objective,
		    start_url = EXCLUDED.start_url,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at`,
		task.ID, task.Objective, task.StartURL, task.Status, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadTask(ctx context.Context, id string) (schemas.Task, error) {
	var task schemas.Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, objective, start_url, status, created_at, updated_at
		FROM tasks WHERE id = $1`, id).
		Scan(&task.ID, &task.Objective, &task.StartURL, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return schemas.Task{}, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, taskID string, snap schemas.ConversationSnapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_states (task_id, snapshot) VALUES ($1, $2)
		ON CONFLICT (task_id) DO UPDATE SET snapshot = EXCLUDED.snapshot`,
		taskID, blob)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadState(ctx context.Context, taskID string) (schemas.ConversationSnapshot, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM task_states WHERE task_id = $1`, taskID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.ConversationSnapshot{}, ErrTaskNotFound
	}
	if err != nil {
		return schemas.ConversationSnapshot{}, fmt.Errorf("failed to load state: %w", err)
	}
	var snap schemas.ConversationSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return schemas.ConversationSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) AddUIMessage(ctx context.Context, msg schemas.UIMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ui_messages (task_id, kind, content, created_at)
		VALUES ($1, $2, $3, $4)`,
		msg.TaskID, msg.Kind, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add ui message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]schemas.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, objective, start_url, status, created_at, updated_at
		FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []schemas.Task
	for rows.Next() {
		var task schemas.Task
		if err := rows.Scan(&task.ID, &task.Objective, &task.StartURL,
			&task.Status, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}
