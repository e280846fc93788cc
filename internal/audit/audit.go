package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/taskdeck/internal/shared"
)

type entry struct {
	Timestamp    string `json:"timestamp"`
	Tool         string `json:"tool"`
	WorkspaceKey string `json:"workspace_key,omitempty"`
	TaskID       int64  `json:"task_id,omitempty"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	TraceID      string `json:"trace_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	failCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// FailCount returns the total number of failed tool calls recorded since
// startup.
func FailCount() int64 {
	return failCount.Load()
}

// Record appends one audit line for a mutating tool call. taskID 0 means
// the call did not target a single task. A nil err records outcome "ok".
func Record(ctx context.Context, tool, workspaceKey string, taskID int64, dur time.Duration, err error) {
	outcome := "ok"
	errMsg := ""
	if err != nil {
		outcome = "error"
		errMsg = err.Error()
		failCount.Add(1)
	}

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}

	ev := entry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Tool:         tool,
		WorkspaceKey: workspaceKey,
		TaskID:       taskID,
		Outcome:      outcome,
		Error:        errMsg,
		DurationMS:   dur.Milliseconds(),
		SessionID:    shared.SessionID(ctx),
	}
	if trace := shared.TraceID(ctx); trace != "-" {
		ev.TraceID = trace
	}
	b, mErr := json.Marshal(ev)
	if mErr == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
