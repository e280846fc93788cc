package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/shared"
	taskpkg "github.com/basket/taskdeck/internal/task"
)

// querier lets the row helpers run against either the pool or an open
// transaction. With a single connection, reads inside a write path MUST
// use the transaction or they deadlock.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const taskColumns = `id, title, description, status, priority, parent_task_id, blocker_reason, created_by, created_at, updated_at, completed_at, deleted_at`

func scanTask(scanFn func(dest ...any) error, t *taskpkg.Task) error {
	var parent sql.NullInt64
	var completed, deleted sql.NullTime
	if err := scanFn(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&parent,
		&t.BlockerReason,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completed,
		&deleted,
	); err != nil {
		return err
	}
	if parent.Valid {
		p := parent.Int64
		t.ParentTaskID = &p
	}
	if completed.Valid {
		c := completed.Time
		t.CompletedAt = &c
	}
	if deleted.Valid {
		d := deleted.Time
		t.DeletedAt = &d
	}
	return nil
}

// CreateTask validates the draft, assigns an id and timestamps, and
// commits the task with its dependency links, tags, and file references
// in one transaction.
func (s *Store) CreateTask(ctx context.Context, draft *taskpkg.Draft) (*taskpkg.Task, error) {
	if err := taskpkg.ValidateDraft(draft); err != nil {
		return nil, err
	}
	if draft.CreatedBy == "" {
		draft.CreatedBy = shared.SessionID(ctx)
	}

	var created *taskpkg.Task
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if draft.ParentTaskID != nil {
			if err := checkReferenceTx(ctx, tx, "parent_task_id", *draft.ParentTaskID); err != nil {
				return err
			}
		}
		for _, dep := range draft.DependsOn {
			if err := checkReferenceTx(ctx, tx, "depends_on", dep); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		var completedAt *time.Time
		if draft.Status == taskpkg.StatusDone {
			// Creating directly as done still honors the completion guard.
			if err := checkDependenciesDoneTx(ctx, tx, 0, draft.DependsOn); err != nil {
				return err
			}
			completedAt = &now
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (title, description, status, priority, parent_task_id, blocker_reason, created_by, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, draft.Title, draft.Description, draft.Status, draft.Priority, nullableID(draft.ParentTaskID),
			draft.BlockerReason, draft.CreatedBy, now, now, nullableTime(completedAt))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task insert id: %w", err)
		}

		if err := replaceDependenciesTx(ctx, tx, id, draft.DependsOn, now); err != nil {
			return err
		}
		if err := replaceTagsTx(ctx, tx, id, draft.Tags); err != nil {
			return err
		}
		if err := replaceFilesTx(ctx, tx, id, draft.FileReferences); err != nil {
			return err
		}
		if err := s.appendTaskEventTx(ctx, tx, id, "", draft.Status, "task.created", now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create tx: %w", err)
		}

		created = &taskpkg.Task{
			ID:             id,
			Title:          draft.Title,
			Description:    draft.Description,
			Status:         draft.Status,
			Priority:       draft.Priority,
			ParentTaskID:   draft.ParentTaskID,
			DependsOn:      draft.DependsOn,
			Tags:           draft.Tags,
			BlockerReason:  draft.BlockerReason,
			FileReferences: draft.FileReferences,
			CreatedBy:      draft.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
			CompletedAt:    completedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(bus.TopicTaskCreated, bus.TaskCreatedEvent{
		WorkspaceKey: s.workspaceKey,
		TaskID:       created.ID,
		Status:       string(created.Status),
	})
	return created, nil
}

// GetTask fetches a task by id, including soft-deleted rows so deleted
// tasks stay addressable for audit. Callers that need active rows only
// check DeletedAt.
func (s *Store) GetTask(ctx context.Context, id int64) (*taskpkg.Task, error) {
	t, err := getTaskRow(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if err := loadTaskLinks(ctx, s.db, t); err != nil {
		return nil, err
	}
	return t, nil
}

func getTaskRow(ctx context.Context, q querier, id int64, activeOnly bool) (*taskpkg.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	if activeOnly {
		query += ` AND deleted_at IS NULL`
	}
	var t taskpkg.Task
	err := scanTask(q.QueryRowContext(ctx, query+`;`, id).Scan, &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, taskpkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select task %d: %w", id, err)
	}
	return &t, nil
}

func loadTaskLinks(ctx context.Context, q querier, t *taskpkg.Task) error {
	deps, err := dependsOnIDs(ctx, q, t.ID)
	if err != nil {
		return err
	}
	t.DependsOn = deps

	rows, err := q.QueryContext(ctx, `SELECT tag FROM task_tags WHERE task_id = ? ORDER BY tag;`, t.ID)
	if err != nil {
		return fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		t.Tags = append(t.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("tag rows: %w", err)
	}

	frows, err := q.QueryContext(ctx, `SELECT path FROM task_files WHERE task_id = ? ORDER BY path;`, t.ID)
	if err != nil {
		return fmt.Errorf("query files: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var path string
		if err := frows.Scan(&path); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		t.FileReferences = append(t.FileReferences, path)
	}
	return frows.Err()
}

func dependsOnIDs(ctx context.Context, q querier, id int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies
		WHERE task_id = ? AND deleted_at IS NULL
		ORDER BY position;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// ListTasks returns active tasks matching the filter, newest activity
// first unless the filter asks for another order.
func (s *Store) ListTasks(ctx context.Context, filter taskpkg.Filter) ([]*taskpkg.Task, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		where = append(where, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.ParentTaskID != nil {
		where = append(where, "parent_task_id = ?")
		args = append(args, *filter.ParentTaskID)
	}
	if filter.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM task_tags tt WHERE tt.task_id = tasks.id AND tt.tag = ?)")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Tag)))
	}
	if filter.Query != "" {
		// Plain substring match; ranking is out of scope.
		where = append(where, "(instr(lower(title), lower(?)) > 0 OR instr(lower(description), lower(?)) > 0)")
		args = append(args, filter.Query, filter.Query)
	}

	order := "updated_at DESC, id DESC"
	switch filter.Sort {
	case taskpkg.SortCreated:
		order = "created_at DESC, id DESC"
	case taskpkg.SortPriority:
		order = "CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, updated_at DESC, id DESC"
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query+`;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*taskpkg.Task
	for rows.Next() {
		var t taskpkg.Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}

	for _, t := range out {
		if err := loadTaskLinks(ctx, s.db, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SearchTasks is ListTasks restricted to a substring query.
func (s *Store) SearchTasks(ctx context.Context, text string, limit int) ([]*taskpkg.Task, error) {
	return s.ListTasks(ctx, taskpkg.Filter{Query: text, Limit: limit})
}

// UpdateTask applies a partial change set. The full invariant set is
// re-validated inside the write transaction; nothing is committed when
// any check fails.
func (s *Store) UpdateTask(ctx context.Context, id int64, change *taskpkg.Change) (*taskpkg.Task, error) {
	var updated *taskpkg.Task
	var oldStatus, newStatus taskpkg.Status

	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin update tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		cur, err := getTaskRow(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := loadTaskLinks(ctx, tx, cur); err != nil {
			return err
		}

		next, err := taskpkg.Apply(cur, change)
		if err != nil {
			return err
		}

		if next.ParentTaskID != nil && (cur.ParentTaskID == nil || *cur.ParentTaskID != *next.ParentTaskID) {
			if err := checkReferenceTx(ctx, tx, "parent_task_id", *next.ParentTaskID); err != nil {
				return err
			}
			if err := checkParentChainTx(ctx, tx, id, *next.ParentTaskID); err != nil {
				return err
			}
		}
		if change.SetDependsOn {
			for _, dep := range next.DependsOn {
				if err := checkReferenceTx(ctx, tx, "depends_on", dep); err != nil {
					return err
				}
			}
			if err := checkNoCycleTx(ctx, tx, id, next.DependsOn); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		statusChanged := next.Status != cur.Status
		if next.Status == taskpkg.StatusDone && (statusChanged || change.SetDependsOn) {
			if err := checkDependenciesDoneTx(ctx, tx, id, next.DependsOn); err != nil {
				return err
			}
		}
		switch {
		case statusChanged && next.Status == taskpkg.StatusDone:
			next.CompletedAt = &now
		case statusChanged && cur.Status == taskpkg.StatusDone:
			next.CompletedAt = nil // reopen
		}
		next.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, description = ?, status = ?, priority = ?, parent_task_id = ?,
				blocker_reason = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND deleted_at IS NULL;
		`, next.Title, next.Description, next.Status, next.Priority, nullableID(next.ParentTaskID),
			next.BlockerReason, now, nullableTime(next.CompletedAt), id); err != nil {
			return fmt.Errorf("update task %d: %w", id, err)
		}

		if change.SetDependsOn {
			if err := replaceDependenciesTx(ctx, tx, id, next.DependsOn, now); err != nil {
				return err
			}
		}
		if change.SetTags {
			if err := replaceTagsTx(ctx, tx, id, next.Tags); err != nil {
				return err
			}
		}
		if change.SetFiles {
			if err := replaceFilesTx(ctx, tx, id, next.FileReferences); err != nil {
				return err
			}
		}

		eventType := "task.updated"
		if statusChanged {
			eventType = "task.status_changed"
		}
		if err := s.appendTaskEventTx(ctx, tx, id, cur.Status, next.Status, eventType, now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit update tx: %w", err)
		}

		updated = next
		oldStatus, newStatus = cur.Status, next.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldStatus != newStatus {
		s.publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
			WorkspaceKey: s.workspaceKey,
			TaskID:       id,
			OldStatus:    string(oldStatus),
			NewStatus:    string(newStatus),
		})
	} else {
		s.publish(bus.TopicTaskUpdated, bus.TaskStateChangedEvent{
			WorkspaceKey: s.workspaceKey,
			TaskID:       id,
			OldStatus:    string(oldStatus),
			NewStatus:    string(newStatus),
		})
	}
	return updated, nil
}

func (s *Store) appendTaskEventTx(ctx context.Context, tx *sql.Tx, taskID int64, from, to taskpkg.Status, eventType string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, trace_id, session_id, event_type, state_from, state_to, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?);
	`, taskID, shared.TraceID(ctx), shared.SessionID(ctx), eventType, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("insert task_event: %w", err)
	}
	return nil
}

func replaceDependenciesTx(ctx context.Context, tx *sql.Tx, id int64, deps []int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?;`, id); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	for i, dep := range deps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position, created_at)
			VALUES (?, ?, ?, ?);
		`, id, dep, i, now); err != nil {
			return fmt.Errorf("insert dependency %d -> %d: %w", id, dep, err)
		}
	}
	return nil
}

func replaceTagsTx(ctx context.Context, tx *sql.Tx, id int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ?;`, id); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_tags (task_id, tag) VALUES (?, ?);`, id, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	return nil
}

func replaceFilesTx(ctx context.Context, tx *sql.Tx, id int64, files []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_files WHERE task_id = ?;`, id); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}
	for _, path := range files {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_files (task_id, path) VALUES (?, ?);`, id, path); err != nil {
			return fmt.Errorf("insert file %q: %w", path, err)
		}
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
