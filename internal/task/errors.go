package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an id does not resolve to an active task.
var ErrNotFound = errors.New("task not found")

// ErrBusy is returned when storage contention exceeded the bounded wait.
// Callers may retry; every other error in this file is not retry-safe.
var ErrBusy = errors.New("storage busy, retry")

// MalformedError reports a schema, type, or length violation on a field.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// DependencyUnmetError reports a completion attempt with an open prerequisite.
type DependencyUnmetError struct {
	TaskID      int64
	UnmetID     int64
	UnmetStatus Status
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("task %d cannot be done: dependency %d is %s", e.TaskID, e.UnmetID, e.UnmetStatus)
}

// CycleError reports a dependency edge that would make a task depend on itself.
type CycleError struct {
	TaskID  int64
	Through int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: task %d is reachable from itself through %d", e.TaskID, e.Through)
}

// ReferenceError reports a parent or dependency pointing at a missing or
// deleted task.
type ReferenceError struct {
	Field string
	RefID int64
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s references task %d, which does not exist or is deleted", e.Field, e.RefID)
}

// Retryable reports whether err is safe to retry as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
