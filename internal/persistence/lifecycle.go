package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskdeck/internal/bus"
	taskpkg "github.com/basket/taskdeck/internal/task"
)

// SoftDeleteTask marks the task deleted and, in the same transaction,
// soft-deletes every dependency link that references it from either
// side. The cascade is unconditional so no active task is ever left
// pointing at a ghost prerequisite.
func (s *Store) SoftDeleteTask(ctx context.Context, id int64) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET deleted_at = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL;
		`, now, now, id)
		if err != nil {
			return fmt.Errorf("soft-delete task %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("soft-delete rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("task %d: %w", id, taskpkg.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE task_dependencies SET deleted_at = ?
			WHERE deleted_at IS NULL AND (task_id = ? OR depends_on_id = ?);
		`, now, id, id); err != nil {
			return fmt.Errorf("soft-delete dependency links of %d: %w", id, err)
		}

		if err := s.appendTaskEventTx(ctx, tx, id, "", "", "task.deleted", now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(bus.TopicTaskDeleted, bus.TaskDeletedEvent{WorkspaceKey: s.workspaceKey, TaskID: id})
	return nil
}

// PurgeDeleted permanently removes soft-deleted tasks older than the
// given age, with their tags, files, events, and any dependency links
// that touch them. Idempotent; active rows and younger tombstones are
// untouched. Returns the number of tasks purged.
func (s *Store) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var purged int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin purge tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM tasks WHERE deleted_at IS NOT NULL AND deleted_at < ?;
		`, cutoff)
		if err != nil {
			return fmt.Errorf("select purge candidates: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan purge candidate: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("purge candidate rows: %w", err)
		}
		rows.Close()

		purged = 0
		if len(ids) == 0 {
			return tx.Commit()
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}

		// Children of a purged task survive; they just lose the parent link.
		statements := []string{
			`UPDATE tasks SET parent_task_id = NULL WHERE parent_task_id IN (` + placeholders + `);`,
			`DELETE FROM task_dependencies WHERE task_id IN (` + placeholders + `) OR depends_on_id IN (` + placeholders + `);`,
			`DELETE FROM task_tags WHERE task_id IN (` + placeholders + `);`,
			`DELETE FROM task_files WHERE task_id IN (` + placeholders + `);`,
			`DELETE FROM task_events WHERE task_id IN (` + placeholders + `);`,
		}
		for _, stmt := range statements {
			stmtArgs := args
			if strings.Count(stmt, "?") == 2*len(ids) {
				stmtArgs = append(append([]any{}, args...), args...)
			}
			if _, err := tx.ExecContext(ctx, stmt, stmtArgs...); err != nil {
				return fmt.Errorf("purge related rows: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+placeholders+`);`, args...)
		if err != nil {
			return fmt.Errorf("purge tasks: %w", err)
		}
		purged, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge rows affected: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	if purged > 0 {
		s.publish(bus.TopicTaskPurged, bus.TaskPurgedEvent{WorkspaceKey: s.workspaceKey, Purged: purged})
	}
	return purged, nil
}
