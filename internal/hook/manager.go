package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ManifestFile is the name of the manifest inside a hook directory.
const ManifestFile = "hook.json"

// ErrHookNotFound is returned when a requested hook does not exist.
var ErrHookNotFound = errors.New("hook not found")

// Manager discovers hooks below a directory.
type Manager struct {
	dir    string
	hooks  map[string]*Hook
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a Manager for dir.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    dir,
		hooks:  make(map[string]*Hook),
		logger: logger.With("component", "hook"),
	}
}

// Discover scans the directory for subdirectories holding a hook.json.
// A missing directory yields no hooks. Invalid manifests are skipped and logged.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[string]*Hook)

	info, err := os.Stat(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("hook path %s is not a directory", m.dir)
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		h, err := loadHook(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			m.logger.Warn("skipping hook", "path", path, "error", err)
			continue
		}
		m.hooks[h.Manifest.Name] = h
		m.logger.Info("hook discovered", "name", h.Manifest.Name, "triggers", h.Triggers)
	}

	return nil
}

func loadHook(path string) (*Hook, error) {
	data, err := os.ReadFile(filepath.Join(path, ManifestFile))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" {
		manifest.Name = filepath.Base(path)
	}
	if manifest.Executable == "" {
		return nil, errors.New("manifest has no executable")
	}

	triggers := make([]Trigger, 0, len(manifest.Triggers))
	for _, s := range manifest.Triggers {
		t, err := ParseTrigger(s)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	if len(triggers) == 0 {
		return nil, errors.New("manifest has no triggers")
	}

	return &Hook{
		Manifest:   manifest,
		Triggers:   triggers,
		Path:       path,
		Executable: filepath.Join(path, manifest.Executable),
	}, nil
}

// Get returns a hook by name.
func (m *Manager) Get(name string) (*Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hooks[name]
	if !ok {
		return nil, ErrHookNotFound
	}
	return h, nil
}

// List returns all discovered hooks sorted by name.
func (m *Manager) List() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hooks := make([]*Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Manifest.Name < hooks[j].Manifest.Name })
	return hooks
}

// Match returns the hooks subscribed to t, sorted by name.
func (m *Manager) Match(t Trigger) []*Hook {
	var out []*Hook
	for _, h := range m.List() {
		if h.Handles(t) {
			out = append(out, h)
		}
	}
	return out
}

// Dir returns the hook directory.
func (m *Manager) Dir() string {
	return m.dir
}
