package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/shared"
)

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.WithSessionID(context.Background(), "sess-1")
	Record(ctx, "create_task", "abc123", 7, 12*time.Millisecond, nil)
	Record(ctx, "delete_task", "abc123", 7, 3*time.Millisecond, errors.New("task 7 not found"))

	path := filepath.Join(home, "logs", "audit.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two audit entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first audit entry: %v", err)
	}
	if first["tool"] != "create_task" {
		t.Fatalf("expected tool create_task, got %#v", first["tool"])
	}
	if first["outcome"] != "ok" {
		t.Fatalf("expected ok outcome, got %#v", first["outcome"])
	}
	if first["workspace_key"] != "abc123" || first["session_id"] != "sess-1" {
		t.Fatalf("missing workspace/session context: %#v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second audit entry: %v", err)
	}
	if second["outcome"] != "error" || second["error"] == "" {
		t.Fatalf("expected recorded failure, got %#v", second)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := context.Background()
	Record(ctx, "create_task", "k1", 1, time.Millisecond, nil)
	Record(ctx, "update_task", "k1", 1, time.Millisecond, nil)

	path := filepath.Join(home, "logs", "audit.jsonl")

	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	size1 := info1.Size()

	Record(ctx, "delete_task", "k1", 1, time.Millisecond, nil)

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, info2.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["tool"]; !ok {
			t.Fatalf("line %d missing tool", i)
		}
	}
}
