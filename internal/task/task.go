// Package task defines the task domain model: the status and priority
// enumerations, the record and change-set types, field validation, and
// the status state machine. Nothing here touches storage; the persistence
// layer calls into this package before every write.
package task

import (
	"fmt"
	"strings"
	"time"
)

// MaxDescriptionLen is the hard ceiling on task descriptions.
const MaxDescriptionLen = 10000

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParseStatus converts external input into a Status. Anything outside the
// closed set is rejected before it can reach the state machine.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone, StatusCancelled:
		return s, nil
	}
	return "", &MalformedError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
}

// ParsePriority converts external input into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", &MalformedError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", raw)}
}

// Task is a stored work item. IDs are assigned by the store and never reused.
type Task struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	ParentTaskID   *int64     `json:"parent_task_id,omitempty"`
	DependsOn      []int64    `json:"depends_on,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	BlockerReason  string     `json:"blocker_reason,omitempty"`
	FileReferences []string   `json:"file_references,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the task is soft-deleted.
func (t *Task) Deleted() bool { return t.DeletedAt != nil }

// Draft is a fully validated candidate for insertion. The store assigns
// ID and timestamps.
type Draft struct {
	Title          string
	Description    string
	Status         Status
	Priority       Priority
	ParentTaskID   *int64
	DependsOn      []int64
	Tags           []string
	BlockerReason  string
	FileReferences []string
	CreatedBy      string
}

// Change is a partial update. Nil means leave the field unchanged; the
// Clear* flags request an explicit reset (the tool layer sets them when
// the caller passed a JSON null).
type Change struct {
	Title            *string
	Description      *string
	ClearDescription bool
	Status           *Status
	Priority         *Priority
	ParentTaskID     *int64
	ClearParent      bool
	DependsOn        []int64
	SetDependsOn     bool
	Tags             []string
	SetTags          bool
	BlockerReason    *string
	FileReferences   []string
	SetFiles         bool
}

// Empty reports whether the change set contains no mutations.
func (c *Change) Empty() bool {
	return c.Title == nil && c.Description == nil && !c.ClearDescription &&
		c.Status == nil && c.Priority == nil &&
		c.ParentTaskID == nil && !c.ClearParent &&
		!c.SetDependsOn && !c.SetTags &&
		c.BlockerReason == nil && !c.SetFiles
}

// SortKey names a supported explicit list ordering.
type SortKey string

const (
	SortRecency  SortKey = "recency" // default: updated_at descending
	SortCreated  SortKey = "created"
	SortPriority SortKey = "priority"
)

// Filter narrows list queries. Nil fields are ignored.
type Filter struct {
	Status       *Status
	Priority     *Priority
	ParentTaskID *int64
	Tag          string
	Query        string // case-insensitive substring over title and description
	Sort         SortKey
	Limit        int
}

// NormalizeTags lowercases, trims, and de-duplicates tags, preserving
// first-seen order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
