package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/taskdeck/internal/workspace"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := workspace.Key("/home/dev/projects/api")
	b := workspace.Key("/home/dev/projects/api")
	if a != b {
		t.Fatalf("same path produced different keys: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if c := workspace.Key("/home/dev/projects/web"); c == a {
		t.Fatalf("distinct paths collided on key %s", a)
	}
}

func TestFromPathCanonicalizes(t *testing.T) {
	dir := t.TempDir()
	messy := filepath.Join(dir, "sub", "..", "sub", ".")

	ws, err := workspace.FromPath(messy)
	if err != nil {
		t.Fatalf("from path: %v", err)
	}
	clean := filepath.Join(dir, "sub")
	if ws.Path != clean {
		t.Fatalf("path not canonicalized: got %q want %q", ws.Path, clean)
	}

	again, err := workspace.FromPath(clean)
	if err != nil {
		t.Fatalf("from clean path: %v", err)
	}
	if again.Key != ws.Key {
		t.Fatalf("equivalent paths map to different keys")
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	dir := t.TempDir()
	envDir := t.TempDir()
	t.Setenv(workspace.EnvVar, envDir)

	// Explicit wins over the environment.
	ws, err := workspace.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if ws.Path != dir {
		t.Fatalf("explicit path ignored: got %q", ws.Path)
	}

	// Environment wins over cwd.
	ws, err = workspace.Resolve("")
	if err != nil {
		t.Fatalf("resolve env: %v", err)
	}
	if ws.Path != envDir {
		t.Fatalf("env path ignored: got %q", ws.Path)
	}

	// Falls back to cwd.
	t.Setenv(workspace.EnvVar, "")
	cwd, _ := os.Getwd()
	ws, err = workspace.Resolve("")
	if err != nil {
		t.Fatalf("resolve cwd: %v", err)
	}
	if ws.Path != filepath.Clean(cwd) {
		t.Fatalf("cwd fallback wrong: got %q want %q", ws.Path, cwd)
	}
}
