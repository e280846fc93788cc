package task

import (
	"fmt"
	"slices"
	"strings"
)

// ValidateDraft checks all field-level invariants on a creation candidate.
// Normalization (tags, whitespace) is applied in place so the store can
// insert the draft verbatim. Referential checks (parent and dependency
// existence, cycles) are the store's job; they need the live graph.
func ValidateDraft(d *Draft) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return &MalformedError{Field: "title", Reason: "must be non-empty"}
	}
	if len(d.Description) > MaxDescriptionLen {
		return &MalformedError{Field: "description", Reason: fmt.Sprintf("exceeds %d characters", MaxDescriptionLen)}
	}
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if _, err := ParseStatus(string(d.Status)); err != nil {
		return err
	}
	if _, err := ParsePriority(string(d.Priority)); err != nil {
		return err
	}
	if err := checkBlockerReason(d.Status, d.BlockerReason); err != nil {
		return err
	}
	d.Tags = NormalizeTags(d.Tags)
	d.DependsOn = dedupeIDs(d.DependsOn)
	return nil
}

// Apply merges a validated change set into a copy of cur and checks every
// cross-field invariant on the result, including transition legality.
// The returned task still needs the store's referential and dependency
// checks before commit.
func Apply(cur *Task, c *Change) (*Task, error) {
	next := *cur
	next.DependsOn = slices.Clone(cur.DependsOn)
	next.Tags = slices.Clone(cur.Tags)
	next.FileReferences = slices.Clone(cur.FileReferences)

	if c.Title != nil {
		next.Title = strings.TrimSpace(*c.Title)
		if next.Title == "" {
			return nil, &MalformedError{Field: "title", Reason: "must be non-empty"}
		}
	}
	if c.ClearDescription {
		next.Description = ""
	} else if c.Description != nil {
		if len(*c.Description) > MaxDescriptionLen {
			return nil, &MalformedError{Field: "description", Reason: fmt.Sprintf("exceeds %d characters", MaxDescriptionLen)}
		}
		next.Description = *c.Description
	}
	if c.Priority != nil {
		next.Priority = *c.Priority
	}
	if c.ClearParent {
		next.ParentTaskID = nil
	} else if c.ParentTaskID != nil {
		next.ParentTaskID = c.ParentTaskID
	}
	if c.SetDependsOn {
		next.DependsOn = dedupeIDs(c.DependsOn)
	}
	if c.SetTags {
		next.Tags = NormalizeTags(c.Tags)
	}
	if c.SetFiles {
		next.FileReferences = slices.Clone(c.FileReferences)
	}

	if c.Status != nil && *c.Status != cur.Status {
		if err := CheckTransition(cur.Status, *c.Status); err != nil {
			return nil, err
		}
		next.Status = *c.Status
	}

	// blocker_reason travels with the status: entering blocked requires a
	// reason in the same change; leaving blocked drops it.
	switch {
	case next.Status == StatusBlocked:
		if c.BlockerReason != nil {
			next.BlockerReason = strings.TrimSpace(*c.BlockerReason)
		}
	case c.BlockerReason != nil && strings.TrimSpace(*c.BlockerReason) != "":
		return nil, &MalformedError{Field: "blocker_reason", Reason: fmt.Sprintf("only allowed with status %s", StatusBlocked)}
	default:
		next.BlockerReason = ""
	}
	if err := checkBlockerReason(next.Status, next.BlockerReason); err != nil {
		return nil, err
	}

	if next.ParentTaskID != nil && *next.ParentTaskID == next.ID {
		return nil, &MalformedError{Field: "parent_task_id", Reason: "task cannot be its own parent"}
	}
	if slices.Contains(next.DependsOn, next.ID) {
		return nil, &MalformedError{Field: "depends_on", Reason: "task cannot depend on itself"}
	}
	return &next, nil
}

func checkBlockerReason(status Status, reason string) error {
	blocked := status == StatusBlocked
	hasReason := strings.TrimSpace(reason) != ""
	if blocked && !hasReason {
		return &MalformedError{Field: "blocker_reason", Reason: fmt.Sprintf("required when status is %s", StatusBlocked)}
	}
	if !blocked && hasReason {
		return &MalformedError{Field: "blocker_reason", Reason: fmt.Sprintf("only allowed with status %s", StatusBlocked)}
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
