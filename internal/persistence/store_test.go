package persistence_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/task"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open(filepath.Join(dir, "tasks-test.db"), "testkey", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func mustCreate(t *testing.T, store *persistence.Store, draft task.Draft) *task.Task {
	t.Helper()
	created, err := store.CreateTask(context.Background(), &draft)
	if err != nil {
		t.Fatalf("create task %q: %v", draft.Title, err)
	}
	return created
}

func setStatus(t *testing.T, store *persistence.Store, id int64, statuses ...task.Status) *task.Task {
	t.Helper()
	var out *task.Task
	for _, status := range statuses {
		st := status
		var err error
		out, err = store.UpdateTask(context.Background(), id, &task.Change{Status: &st})
		if err != nil {
			t.Fatalf("set task %d to %s: %v", id, status, err)
		}
	}
	return out
}

func TestOpenConfiguresWALAndSchema(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}

	for _, table := range []string{"schema_migrations", "tasks", "task_dependencies", "task_tags", "task_files", "task_events"} {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestMigrationLedgerHasChecksum(t *testing.T) {
	store := openTestStore(t)

	var version int
	var checksum string
	if err := store.DB().QueryRow(`SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1;`).Scan(&version, &checksum); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if version != 1 || checksum == "" {
		t.Fatalf("unexpected ledger state: v%d %q", version, checksum)
	}
}

func TestCreateTaskDefaultsAndIDs(t *testing.T) {
	store := openTestStore(t)

	first := mustCreate(t, store, task.Draft{Title: "first"})
	second := mustCreate(t, store, task.Draft{Title: "second"})

	if first.Status != task.StatusTodo || first.Priority != task.PriorityMedium {
		t.Fatalf("defaults not applied: %s/%s", first.Status, first.Priority)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("ids not monotonic: %d then %d", first.ID, second.ID)
	}
	if first.CreatedAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped")
	}
	if first.CompletedAt != nil {
		t.Fatalf("completed_at set on fresh task")
	}
}

func TestCreateTaskNormalizesTags(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{Title: "tagged", Tags: []string{" API ", "api", "Backend"}})

	got, err := store.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tags) != 2 {
		t.Fatalf("expected 2 normalized tags, got %v", got.Tags)
	}
	for _, tag := range got.Tags {
		if tag != "api" && tag != "backend" {
			t.Fatalf("tag not normalized: %q", tag)
		}
	}
}

func TestCreateRejectsBadReferences(t *testing.T) {
	store := openTestStore(t)

	missing := int64(9999)
	_, err := store.CreateTask(context.Background(), &task.Draft{Title: "orphan", ParentTaskID: &missing})
	var refErr *task.ReferenceError
	if !errors.As(err, &refErr) || refErr.Field != "parent_task_id" {
		t.Fatalf("expected parent ReferenceError, got %v", err)
	}

	_, err = store.CreateTask(context.Background(), &task.Draft{Title: "dep", DependsOn: []int64{9999}})
	if !errors.As(err, &refErr) || refErr.Field != "depends_on" {
		t.Fatalf("expected depends_on ReferenceError, got %v", err)
	}

	// A soft-deleted task is a ghost for new references.
	ghost := mustCreate(t, store, task.Draft{Title: "ghost"})
	if err := store.SoftDeleteTask(context.Background(), ghost.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = store.CreateTask(context.Background(), &task.Draft{Title: "dep2", DependsOn: []int64{ghost.ID}})
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceError on deleted dependency, got %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetTask(context.Background(), 42)
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePartialLeavesOmittedFields(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{
		Title:       "partial",
		Description: "keep me",
		Priority:    task.PriorityHigh,
		Tags:        []string{"keep"},
	})

	title := "renamed"
	updated, err := store.UpdateTask(context.Background(), created.ID, &task.Change{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "keep me" || updated.Priority != task.PriorityHigh || len(updated.Tags) != 1 {
		t.Fatalf("omitted fields mutated: %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) && !updated.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}
}

func TestStatusLifecycle(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{Title: "work"})

	// todo -> done directly always fails.
	done := task.StatusDone
	_, err := store.UpdateTask(context.Background(), created.ID, &task.Change{Status: &done})
	var trErr *task.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.From != task.StatusTodo || trErr.To != task.StatusDone {
		t.Fatalf("error pair %s -> %s", trErr.From, trErr.To)
	}

	// Status unchanged after the failed attempt.
	got, err := store.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusTodo {
		t.Fatalf("status mutated by failed transition: %s", got.Status)
	}

	// todo -> in_progress -> done succeeds and stamps completed_at.
	finished := setStatus(t, store, created.ID, task.StatusInProgress, task.StatusDone)
	if finished.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}

	// Reopening clears completed_at.
	reopened := setStatus(t, store, created.ID, task.StatusInProgress)
	if reopened.CompletedAt != nil {
		t.Fatalf("completed_at not cleared on reopen")
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{Title: "doomed"})
	setStatus(t, store, created.ID, task.StatusCancelled)

	todo := task.StatusTodo
	_, err := store.UpdateTask(context.Background(), created.ID, &task.Change{Status: &todo})
	var trErr *task.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError out of cancelled, got %v", err)
	}
}

func TestBlockedRequiresReason(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{Title: "stuck"})

	blocked := task.StatusBlocked
	_, err := store.UpdateTask(context.Background(), created.ID, &task.Change{Status: &blocked})
	var malformed *task.MalformedError
	if !errors.As(err, &malformed) || malformed.Field != "blocker_reason" {
		t.Fatalf("expected blocker_reason MalformedError, got %v", err)
	}

	reason := "waiting on credentials"
	updated, err := store.UpdateTask(context.Background(), created.ID, &task.Change{Status: &blocked, BlockerReason: &reason})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if updated.BlockerReason != reason {
		t.Fatalf("reason not stored: %q", updated.BlockerReason)
	}

	// Setting a reason on a non-blocked task fails too.
	other := mustCreate(t, store, task.Draft{Title: "fine"})
	_, err = store.UpdateTask(context.Background(), other.ID, &task.Change{BlockerReason: &reason})
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedError for reason without blocked, got %v", err)
	}

	// Unblocking drops the reason.
	unblocked := setStatus(t, store, created.ID, task.StatusTodo)
	if unblocked.BlockerReason != "" {
		t.Fatalf("reason survived unblock: %q", unblocked.BlockerReason)
	}
}

func TestListFiltersAndSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, store, task.Draft{Title: "alpha server", Tags: []string{"backend"}, Priority: task.PriorityLow})
	mustCreate(t, store, task.Draft{Title: "beta ui", Description: "server rendering", Tags: []string{"frontend"}})
	c := mustCreate(t, store, task.Draft{Title: "gamma", Priority: task.PriorityHigh})
	setStatus(t, store, c.ID, task.StatusInProgress)

	todo := task.StatusTodo
	got, err := store.ListTasks(ctx, task.Filter{Status: &todo})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 todo tasks, got %d", len(got))
	}

	got, err = store.ListTasks(ctx, task.Filter{Tag: "Backend"})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("tag filter wrong: %+v", got)
	}

	// Substring match covers title and description.
	got, err = store.SearchTasks(ctx, "SERVER", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 search hits, got %d", len(got))
	}

	high := task.PriorityHigh
	got, err = store.ListTasks(ctx, task.Filter{Priority: &high})
	if err != nil {
		t.Fatalf("list by priority: %v", err)
	}
	if len(got) != 1 || got[0].ID != c.ID {
		t.Fatalf("priority filter wrong")
	}

	got, err = store.ListTasks(ctx, task.Filter{Sort: task.SortPriority})
	if err != nil {
		t.Fatalf("list by priority sort: %v", err)
	}
	if len(got) != 3 || got[0].ID != c.ID {
		t.Fatalf("priority sort should lead with high")
	}
}

func TestListByParent(t *testing.T) {
	store := openTestStore(t)
	parent := mustCreate(t, store, task.Draft{Title: "epic"})
	child := mustCreate(t, store, task.Draft{Title: "step", ParentTaskID: &parent.ID})
	mustCreate(t, store, task.Draft{Title: "unrelated"})

	got, err := store.ListTasks(context.Background(), task.Filter{ParentTaskID: &parent.ID})
	if err != nil {
		t.Fatalf("list by parent: %v", err)
	}
	if len(got) != 1 || got[0].ID != child.ID {
		t.Fatalf("parent filter wrong: %+v", got)
	}
}

func TestUpdateRecordsTaskEvents(t *testing.T) {
	store := openTestStore(t)
	created := mustCreate(t, store, task.Draft{Title: "audited"})
	setStatus(t, store, created.ID, task.StatusInProgress)

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(1) FROM task_events WHERE task_id = ?;`, created.ID).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	// One creation event plus one status change.
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}
