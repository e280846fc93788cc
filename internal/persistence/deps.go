package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	taskpkg "github.com/basket/taskdeck/internal/task"
)

// checkReferenceTx verifies that refID names an existing, non-deleted
// task. Soft-deleted tasks are ghosts as far as new references go.
func checkReferenceTx(ctx context.Context, q querier, field string, refID int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ? AND deleted_at IS NULL;`, refID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &taskpkg.ReferenceError{Field: field, RefID: refID}
	}
	if err != nil {
		return fmt.Errorf("check reference %s=%d: %w", field, refID, err)
	}
	return nil
}

// checkParentChainTx walks up from newParent; finding taskID on the way
// means the reparent would loop the tree and break subtree expansion.
func checkParentChainTx(ctx context.Context, tx *sql.Tx, taskID, newParent int64) error {
	cur := newParent
	for {
		if cur == taskID {
			return &taskpkg.MalformedError{Field: "parent_task_id", Reason: "would create a parent loop"}
		}
		var parent sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT parent_task_id FROM tasks WHERE id = ?;`, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) || err == nil && !parent.Valid {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk parent chain at %d: %w", cur, err)
		}
		cur = parent.Int64
	}
}

// checkNoCycleTx rejects a dependency set that would make taskID
// transitively depend on itself. It walks the active edge set with the
// task's own edges replaced by newDeps, before anything is written.
func checkNoCycleTx(ctx context.Context, tx *sql.Tx, taskID int64, newDeps []int64) error {
	edges := make(map[int64][]int64)
	rows, err := tx.QueryContext(ctx, `
		SELECT task_id, depends_on_id FROM task_dependencies
		WHERE deleted_at IS NULL AND task_id != ?;
	`, taskID)
	if err != nil {
		return fmt.Errorf("load dependency edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return fmt.Errorf("scan dependency edge: %w", err)
		}
		edges[from] = append(edges[from], to)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dependency edge rows: %w", err)
	}

	for _, start := range newDeps {
		// BFS from each new prerequisite; reaching taskID closes a cycle.
		queue := []int64{start}
		seen := map[int64]struct{}{start: {}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur == taskID {
				return &taskpkg.CycleError{TaskID: taskID, Through: start}
			}
			for _, next := range edges[cur] {
				if _, ok := seen[next]; ok {
					continue
				}
				seen[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// checkDependenciesDoneTx is the completion guard: every prerequisite
// must itself be done before taskID may become done. The first unmet
// dependency is named in the error.
func checkDependenciesDoneTx(ctx context.Context, q querier, taskID int64, deps []int64) error {
	for _, dep := range deps {
		var status taskpkg.Status
		var deleted sql.NullTime
		err := q.QueryRowContext(ctx, `SELECT status, deleted_at FROM tasks WHERE id = ?;`, dep).Scan(&status, &deleted)
		if errors.Is(err, sql.ErrNoRows) {
			return &taskpkg.ReferenceError{Field: "depends_on", RefID: dep}
		}
		if err != nil {
			return fmt.Errorf("check dependency %d: %w", dep, err)
		}
		if deleted.Valid {
			// Soft-deleted prerequisites are excluded from blocking.
			continue
		}
		if status != taskpkg.StatusDone {
			return &taskpkg.DependencyUnmetError{TaskID: taskID, UnmetID: dep, UnmetStatus: status}
		}
	}
	return nil
}

// BlockedTasks returns all active blocked tasks with their stored reasons.
func (s *Store) BlockedTasks(ctx context.Context) ([]*taskpkg.Task, error) {
	blocked := taskpkg.StatusBlocked
	return s.ListTasks(ctx, taskpkg.Filter{Status: &blocked})
}

// ActionableTasks returns the ready-to-start frontier: active todo tasks
// whose entire dependency set is already done.
func (s *Store) ActionableTasks(ctx context.Context) ([]*taskpkg.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE deleted_at IS NULL AND status = 'todo'
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies d
			JOIN tasks p ON p.id = d.depends_on_id
			WHERE d.task_id = tasks.id AND d.deleted_at IS NULL
			AND p.deleted_at IS NULL AND p.status != 'done'
		)
		ORDER BY updated_at DESC, id DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list actionable tasks: %w", err)
	}
	defer rows.Close()

	var out []*taskpkg.Task
	for rows.Next() {
		var t taskpkg.Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scan actionable task: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("actionable rows: %w", err)
	}
	for _, t := range out {
		if err := loadTaskLinks(ctx, s.db, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TreeNode is a task with its recursively expanded subtasks.
type TreeNode struct {
	Task     *taskpkg.Task `json:"task"`
	Children []*TreeNode   `json:"children,omitempty"`
}

// TaskTree returns the task and its full descendant subtree along
// parent_task_id, excluding soft-deleted descendants. A deleted root is
// Not-Found.
func (s *Store) TaskTree(ctx context.Context, id int64) (*TreeNode, error) {
	root, err := getTaskRow(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	if err := loadTaskLinks(ctx, s.db, root); err != nil {
		return nil, err
	}
	node := &TreeNode{Task: root}
	if err := s.expandChildren(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *Store) expandChildren(ctx context.Context, node *TreeNode) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE parent_task_id = ? AND deleted_at IS NULL
		ORDER BY id;
	`, node.Task.ID)
	if err != nil {
		return fmt.Errorf("query subtasks of %d: %w", node.Task.ID, err)
	}
	var children []*TreeNode
	for rows.Next() {
		var t taskpkg.Task
		if err := scanTask(rows.Scan, &t); err != nil {
			rows.Close()
			return fmt.Errorf("scan subtask: %w", err)
		}
		children = append(children, &TreeNode{Task: &t})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("subtask rows: %w", err)
	}
	rows.Close()

	for _, child := range children {
		if err := loadTaskLinks(ctx, s.db, child.Task); err != nil {
			return err
		}
		if err := s.expandChildren(ctx, child); err != nil {
			return err
		}
	}
	node.Children = children
	return nil
}
