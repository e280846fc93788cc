package task_test

import (
	"errors"
	"testing"

	"github.com/basket/taskdeck/internal/task"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want task.Status
		ok   bool
	}{
		{"todo", task.StatusTodo, true},
		{" In_Progress ", task.StatusInProgress, true},
		{"BLOCKED", task.StatusBlocked, true},
		{"done", task.StatusDone, true},
		{"cancelled", task.StatusCancelled, true},
		{"canceled", "", false},
		{"pending", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := task.ParseStatus(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseStatus(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseStatus(%q) = %q, want %q", tc.in, got, tc.want)
			}
			continue
		}
		var malformed *task.MalformedError
		if !errors.As(err, &malformed) {
			t.Fatalf("ParseStatus(%q): expected MalformedError, got %v", tc.in, err)
		}
	}
}

func TestParsePriorityRejectsUnknown(t *testing.T) {
	if _, err := task.ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
	p, err := task.ParsePriority("High")
	if err != nil {
		t.Fatalf("parse priority: %v", err)
	}
	if p != task.PriorityHigh {
		t.Fatalf("got %q, want high", p)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := task.NormalizeTags([]string{" Backend ", "backend", "", "API", "api"})
	want := []string{"backend", "api"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to task.Status }{
		{task.StatusTodo, task.StatusInProgress},
		{task.StatusTodo, task.StatusBlocked},
		{task.StatusTodo, task.StatusCancelled},
		{task.StatusInProgress, task.StatusBlocked},
		{task.StatusInProgress, task.StatusDone},
		{task.StatusInProgress, task.StatusCancelled},
		{task.StatusBlocked, task.StatusTodo},
		{task.StatusBlocked, task.StatusInProgress},
		{task.StatusBlocked, task.StatusCancelled},
		{task.StatusDone, task.StatusInProgress},
	}
	for _, tr := range allowed {
		if !task.CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be legal", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to task.Status }{
		{task.StatusTodo, task.StatusDone}, // completion must pass through in_progress
		{task.StatusDone, task.StatusTodo},
		{task.StatusDone, task.StatusBlocked},
		{task.StatusCancelled, task.StatusTodo},
		{task.StatusCancelled, task.StatusInProgress},
		{task.StatusCancelled, task.StatusDone},
		{task.StatusBlocked, task.StatusDone},
	}
	for _, tr := range denied {
		if task.CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be illegal", tr.from, tr.to)
		}
	}
}

func TestCheckTransitionNamesPair(t *testing.T) {
	err := task.CheckTransition(task.StatusTodo, task.StatusDone)
	var trErr *task.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.From != task.StatusTodo || trErr.To != task.StatusDone {
		t.Fatalf("error names %s -> %s, want todo -> done", trErr.From, trErr.To)
	}
}

func TestValidateDraftDefaults(t *testing.T) {
	d := &task.Draft{Title: "  ship it  "}
	if err := task.ValidateDraft(d); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.Title != "ship it" {
		t.Fatalf("title not trimmed: %q", d.Title)
	}
	if d.Status != task.StatusTodo || d.Priority != task.PriorityMedium {
		t.Fatalf("defaults not applied: %s/%s", d.Status, d.Priority)
	}
}

func TestValidateDraftRejections(t *testing.T) {
	if err := task.ValidateDraft(&task.Draft{Title: "   "}); err == nil {
		t.Fatalf("expected empty-title rejection")
	}

	long := make([]byte, task.MaxDescriptionLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := task.ValidateDraft(&task.Draft{Title: "t", Description: string(long)}); err == nil {
		t.Fatalf("expected description-length rejection")
	}

	// blocked without a reason is rejected outright, not defaulted.
	if err := task.ValidateDraft(&task.Draft{Title: "t", Status: task.StatusBlocked}); err == nil {
		t.Fatalf("expected blocker_reason rejection")
	}
	// a reason without blocked status is equally invalid.
	if err := task.ValidateDraft(&task.Draft{Title: "t", BlockerReason: "waiting"}); err == nil {
		t.Fatalf("expected reason-without-blocked rejection")
	}
}

func TestApplyBlockedReasonCoupling(t *testing.T) {
	cur := &task.Task{ID: 1, Title: "t", Status: task.StatusTodo, Priority: task.PriorityMedium}

	blocked := task.StatusBlocked
	if _, err := task.Apply(cur, &task.Change{Status: &blocked}); err == nil {
		t.Fatalf("expected rejection: blocked without reason")
	}

	reason := "waiting on review"
	next, err := task.Apply(cur, &task.Change{Status: &blocked, BlockerReason: &reason})
	if err != nil {
		t.Fatalf("apply blocked: %v", err)
	}
	if next.BlockerReason != reason {
		t.Fatalf("reason not stored: %q", next.BlockerReason)
	}

	// Leaving blocked drops the reason.
	todo := task.StatusTodo
	back, err := task.Apply(next, &task.Change{Status: &todo})
	if err != nil {
		t.Fatalf("apply unblock: %v", err)
	}
	if back.BlockerReason != "" {
		t.Fatalf("reason should be cleared, got %q", back.BlockerReason)
	}
}

func TestApplyRejectsSelfReferences(t *testing.T) {
	cur := &task.Task{ID: 7, Title: "t", Status: task.StatusTodo, Priority: task.PriorityMedium}
	if _, err := task.Apply(cur, &task.Change{DependsOn: []int64{7}, SetDependsOn: true}); err == nil {
		t.Fatalf("expected self-dependency rejection")
	}
	self := int64(7)
	if _, err := task.Apply(cur, &task.Change{ParentTaskID: &self}); err == nil {
		t.Fatalf("expected self-parent rejection")
	}
}

func TestApplyOmittedFieldsUnchanged(t *testing.T) {
	desc := "original"
	cur := &task.Task{
		ID: 3, Title: "t", Description: desc,
		Status: task.StatusTodo, Priority: task.PriorityHigh,
		Tags: []string{"a"},
	}
	title := "renamed"
	next, err := task.Apply(cur, &task.Change{Title: &title})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Description != desc || next.Priority != task.PriorityHigh || len(next.Tags) != 1 {
		t.Fatalf("omitted fields mutated: %+v", next)
	}

	cleared, err := task.Apply(cur, &task.Change{ClearDescription: true})
	if err != nil {
		t.Fatalf("apply clear: %v", err)
	}
	if cleared.Description != "" {
		t.Fatalf("description should be cleared")
	}
}
