package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/workspace"
)

// Manager routes workspaces to their task stores. It is created at
// process start, opens stores lazily per workspace key, and closes them
// all at shutdown — an explicit object instead of ambient process-wide
// state, so tests get a fresh one per case.
type Manager struct {
	dataDir  string
	registry *Registry
	bus      *bus.Bus

	mu     sync.Mutex
	stores map[string]*persistence.Store
}

// NewManager opens the master registry under dataDir and prepares the
// lazy store map. eventBus may be nil.
func NewManager(dataDir string, eventBus *bus.Bus) (*Manager, error) {
	reg, err := Open(filepath.Join(dataDir, "projects.db"))
	if err != nil {
		return nil, err
	}
	return &Manager{
		dataDir:  dataDir,
		registry: reg,
		bus:      eventBus,
		stores:   make(map[string]*persistence.Store),
	}, nil
}

// Registry exposes the master projects database.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// StorePath returns the deterministic database location for a workspace key.
func (m *Manager) StorePath(key string) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("tasks-%s.db", key))
}

// StoreFor resolves the workspace, touches its registry entry, and
// returns its task store, opening it on first use.
func (m *Manager) StoreFor(ctx context.Context, ws workspace.Workspace) (*persistence.Store, error) {
	dbPath := m.StorePath(ws.Key)
	if _, err := m.registry.Touch(ctx, ws.Key, ws.Path, dbPath); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.stores[ws.Key]; ok {
		return store, nil
	}
	store, err := persistence.Open(dbPath, ws.Key, m.bus)
	if err != nil {
		return nil, fmt.Errorf("open task store for %s: %w", ws.Key, err)
	}
	m.stores[ws.Key] = store
	if m.bus != nil {
		m.bus.Publish(bus.TopicStoreOpened, bus.StoreEvent{WorkspaceKey: ws.Key})
	}
	return store, nil
}

// OpenStores returns the currently open stores, keyed by workspace. Used
// by the retention scheduler to sweep everything touched this process.
func (m *Manager) OpenStores() map[string]*persistence.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*persistence.Store, len(m.stores))
	for k, v := range m.stores {
		out[k] = v
	}
	return out
}

// Close closes every open task store and then the registry. Safe to call
// once at shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for key, store := range m.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store %s: %w", key, err)
		}
		if m.bus != nil {
			m.bus.Publish(bus.TopicStoreClosed, bus.StoreEvent{WorkspaceKey: key})
		}
		delete(m.stores, key)
	}
	if err := m.registry.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close registry: %w", err)
	}
	return firstErr
}
