// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package a2a

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/strandkit/strand/pkg/utils"
)

const sqlQueryTimeout = 30 * time.Second

const (
	// Table and indexes are created with separate statements for SQLite
	// compatibility.
	createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT,
    artifacts_json TEXT,
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createTasksContextIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_context_id ON a2a_tasks(context_id)`

	createTasksUpdatedAtIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_updated_at ON a2a_tasks(updated_at)`
)

// SQLStore is a SQL-backed task store with the same delta semantics as the
// in-memory TaskStore. Updates serialize through a store-level mutex so the
// read-modify-write of an event application is atomic with respect to other
// writers on the same store.
//
// The db connection should be shared with other services using the same
// database to avoid SQLite "database is locked" errors.
type SQLStore struct {
	db      *sql.DB
	dialect string
	clock   utils.Clock

	mu sync.Mutex
}

type taskRow struct {
	ID            string
	ContextID     string
	StatusJSON    string
	HistoryJSON   string
	ArtifactsJSON string
	MetadataJSON  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSQLStore creates a SQL task store. Supported dialects: postgres, mysql,
// sqlite (sqlite3 is accepted as an alias). A nil clock defaults to the
// system clock.
func NewSQLStore(db *sql.DB, dialect string, clock utils.Clock) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}

	s := &SQLStore{db: db, dialect: dialect, clock: clock}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createTasksTableSQL); err != nil {
		return fmt.Errorf("failed to create a2a_tasks table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTasksContextIndexSQL); err != nil {
		return fmt.Errorf("failed to create context_id index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTasksUpdatedAtIndexSQL); err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return nil
}

// Get retrieves a task by id, windowed per opts.
func (s *SQLStore) Get(taskID string, opts GetOptions) (*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return projectTask(task, opts), nil
}

// GetAll returns the tasks that exist among taskIDs, best effort.
func (s *SQLStore) GetAll(taskIDs []string, opts GetOptions) ([]*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	out := make([]*Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, err := s.loadTask(ctx, id)
		if err != nil {
			var notFound *TaskNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		out = append(out, projectTask(task, opts))
	}
	return out, nil
}

// GetByContext returns all tasks of a context, using the context_id index.
func (s *SQLStore) GetByContext(contextID string, opts GetOptions) ([]*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	query := s.rebind(`
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at
FROM a2a_tasks
WHERE context_id = ?
ORDER BY updated_at`)

	rows, err := s.db.QueryContext(ctx, query, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by context: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Task
	for rows.Next() {
		var row taskRow
		if err := rows.Scan(
			&row.ID, &row.ContextID, &row.StatusJSON,
			&row.HistoryJSON, &row.ArtifactsJSON, &row.MetadataJSON,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		task, err := rowToTask(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, projectTask(task, opts))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return out, nil
}

// Update applies a task event with the same semantics as TaskStore.Update
// and persists the result.
func (s *SQLStore) Update(event TaskEvent) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	existing, err := s.loadTask(ctx, event.EventTaskID())
	if err != nil {
		var notFound *TaskNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		existing = nil
	}

	var updated *Task
	switch ev := event.(type) {
	case *Task:
		if err := checkTaskUpsert(existing, ev); err != nil {
			return nil, err
		}
		updated = copyTask(ev)
		if updated.Status.Timestamp.IsZero() {
			updated.Status.Timestamp = s.clock.Now()
		}
	case *TaskStatusUpdateEvent:
		updated, err = applyStatusDelta(existing, ev, s.clock.Now())
	case *TaskArtifactUpdateEvent:
		updated, err = applyArtifactDelta(existing, ev)
	default:
		return nil, &InvalidEventError{Field: "type", Reason: fmt.Sprintf("unsupported event %T", event)}
	}
	if err != nil {
		return nil, err
	}

	if err := s.saveTask(ctx, updated); err != nil {
		return nil, err
	}
	return copyTask(updated), nil
}

// Delete removes a task; an unknown id fails with TaskNotFoundError.
func (s *SQLStore) Delete(taskID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM a2a_tasks WHERE id = ?`), taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &TaskNotFoundError{TaskID: taskID}
	}
	return nil
}

// DeleteAll removes every listed task in one transaction; the batch rolls
// back when any id is unknown.
func (s *SQLStore) DeleteAll(taskIDs []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqlQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`DELETE FROM a2a_tasks WHERE id = ?`)
	for _, id := range taskIDs {
		res, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return &TaskNotFoundError{TaskID: id}
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) loadTask(ctx context.Context, taskID string) (*Task, error) {
	query := s.rebind(`
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at
FROM a2a_tasks
WHERE id = ?`)

	var row taskRow
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&row.ID, &row.ContextID, &row.StatusJSON,
		&row.HistoryJSON, &row.ArtifactsJSON, &row.MetadataJSON,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		slog.Debug("SQLStore: task not found", "taskId", taskID)
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return rowToTask(&row)
}

func (s *SQLStore) saveTask(ctx context.Context, task *Task) error {
	row, err := taskToRow(task, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	query := `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    context_id = VALUES(context_id),
    status_json = VALUES(status_json),
    history_json = VALUES(history_json),
    artifacts_json = VALUES(artifacts_json),
    metadata_json = VALUES(metadata_json),
    updated_at = VALUES(updated_at)
`
	switch s.dialect {
	case "postgres":
		query = `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    context_id = EXCLUDED.context_id,
    status_json = EXCLUDED.status_json,
    history_json = EXCLUDED.history_json,
    artifacts_json = EXCLUDED.artifacts_json,
    metadata_json = EXCLUDED.metadata_json,
    updated_at = EXCLUDED.updated_at
`
	case "sqlite":
		// ON CONFLICT (SQLite 3.24+) preserves created_at on update, unlike
		// INSERT OR REPLACE.
		query = `
INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    context_id = excluded.context_id,
    status_json = excluded.status_json,
    history_json = excluded.history_json,
    artifacts_json = excluded.artifacts_json,
    metadata_json = excluded.metadata_json,
    updated_at = excluded.updated_at
`
	}

	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.ContextID, row.StatusJSON,
		row.HistoryJSON, row.ArtifactsJSON, row.MetadataJSON,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var out []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func taskToRow(task *Task, now time.Time) (*taskRow, error) {
	statusJSON, err := json.Marshal(task.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}

	historyJSON := []byte("[]")
	if len(task.History) > 0 {
		if historyJSON, err = json.Marshal(task.History); err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
	}

	artifactsJSON := []byte("[]")
	if len(task.Artifacts) > 0 {
		if artifactsJSON, err = json.Marshal(task.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to marshal artifacts: %w", err)
		}
	}

	metadataJSON := []byte("{}")
	if len(task.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	return &taskRow{
		ID:            task.ID,
		ContextID:     task.ContextID,
		StatusJSON:    string(statusJSON),
		HistoryJSON:   string(historyJSON),
		ArtifactsJSON: string(artifactsJSON),
		MetadataJSON:  string(metadataJSON),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func rowToTask(row *taskRow) (*Task, error) {
	task := &Task{ID: row.ID, ContextID: row.ContextID}

	if row.StatusJSON == "" {
		return nil, fmt.Errorf("status_json is required but was empty")
	}
	if err := json.Unmarshal([]byte(row.StatusJSON), &task.Status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if row.HistoryJSON != "" && row.HistoryJSON != "[]" {
		if err := json.Unmarshal([]byte(row.HistoryJSON), &task.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if row.ArtifactsJSON != "" && row.ArtifactsJSON != "[]" {
		if err := json.Unmarshal([]byte(row.ArtifactsJSON), &task.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
		}
	}
	if row.MetadataJSON != "" && row.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(row.MetadataJSON), &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return task, nil
}

var _ Storage = (*SQLStore)(nil)
