// Package workspace resolves a caller-supplied or inferred workspace path
// to a canonical absolute path and a stable short key. The key names the
// workspace's database file, so it must be identical across processes and
// restarts for the same path.
package workspace

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// EnvVar overrides the inferred workspace when no explicit path is given.
const EnvVar = "TASKDECK_WORKSPACE"

// Workspace is a resolved workspace identity.
type Workspace struct {
	Path string // canonical absolute path
	Key  string // deterministic short key derived from Path
}

// Resolve picks the workspace path in priority order: the explicit
// argument, then $TASKDECK_WORKSPACE, then the current directory.
func Resolve(explicit string) (Workspace, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvVar))
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Workspace{}, fmt.Errorf("resolve working directory: %w", err)
		}
		path = cwd
	}
	return FromPath(path)
}

// FromPath canonicalizes path and derives its key. Pure apart from the
// filesystem lookup needed for absolutization; the path does not have to
// exist.
func FromPath(path string) (Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("absolutize workspace path %q: %w", path, err)
	}
	abs = filepath.Clean(abs)
	return Workspace{Path: abs, Key: Key(abs)}, nil
}

// Key hashes a canonical path into the short key used to name storage
// files. FNV-1a 64 keeps it stable and collision-resistant enough for
// directory-count scale.
func Key(canonicalPath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonicalPath))
	return fmt.Sprintf("%016x", h.Sum64())
}
