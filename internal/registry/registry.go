// Package registry is the singleton catalogue of known workspaces. A
// master SQLite database maps workspace keys to friendly names, storage
// locations, and last-access timestamps; the Manager owns it together
// with the lazily opened per-workspace task stores.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	taskpkg "github.com/basket/taskdeck/internal/task"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "td-registry-v1-2026-08"
)

// Project is one registered workspace.
type Project struct {
	WorkspaceKey   string    `json:"workspace_key"`
	Name           string    `json:"name,omitempty"`
	Path           string    `json:"path"`
	DBPath         string    `json:"db_path"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Registry is the master projects database. Many workspaces may be
// touched concurrently by different processes, so it runs the same WAL
// plus bounded-busy-wait discipline as the task stores.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Registry{db: db}
	if err := r.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for tests.
func (r *Registry) DB() *sql.DB {
	return r.db
}

func (r *Registry) initSchema(ctx context.Context) error {
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=FULL;"} {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS projects (
			workspace_key TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			db_path TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_last_accessed ON projects(last_accessed_at);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec registry migration: %w", err)
		}
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read registry migration version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("registry schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum) VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("insert registry migration ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registry migration tx: %w", err)
	}
	return nil
}

// Touch registers the workspace on first sight and bumps its
// last-access timestamp on every call.
func (r *Registry) Touch(ctx context.Context, key, path, dbPath string) (*Project, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (workspace_key, path, db_path, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workspace_key) DO UPDATE SET
			path = excluded.path,
			db_path = excluded.db_path,
			last_accessed_at = excluded.last_accessed_at;
	`, key, path, dbPath, now, now)
	if err != nil {
		return nil, fmt.Errorf("touch project %s: %w", key, err)
	}
	return r.Get(ctx, key)
}

// Get fetches one registry entry by workspace key.
func (r *Registry) Get(ctx context.Context, key string) (*Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx, `
		SELECT workspace_key, name, path, db_path, created_at, last_accessed_at
		FROM projects WHERE workspace_key = ?;
	`, key).Scan(&p.WorkspaceKey, &p.Name, &p.Path, &p.DBPath, &p.CreatedAt, &p.LastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", key, taskpkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select project %s: %w", key, err)
	}
	return &p, nil
}

// List returns all registered workspaces, most recently touched first.
func (r *Registry) List(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workspace_key, name, path, db_path, created_at, last_accessed_at
		FROM projects ORDER BY last_accessed_at DESC, workspace_key;
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.WorkspaceKey, &p.Name, &p.Path, &p.DBPath, &p.CreatedAt, &p.LastAccessedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("project rows: %w", err)
	}
	return out, nil
}

// SetName sets the human-friendly name of a registered workspace.
func (r *Registry) SetName(ctx context.Context, key, name string) (*Project, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, last_accessed_at = ? WHERE workspace_key = ?;
	`, name, time.Now().UTC(), key)
	if err != nil {
		return nil, fmt.Errorf("set project name %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("set name rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("project %s: %w", key, taskpkg.ErrNotFound)
	}
	return r.Get(ctx, key)
}
