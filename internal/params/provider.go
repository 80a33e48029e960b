package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ayusman/viewersense/internal/store"
)

// Provider supplies a parameter snapshot once per detection cycle.
type Provider interface {
	Snapshot() Params
}

// ErrInvalid wraps rejected parameter values and malformed patches.
var ErrInvalid = errors.New("invalid parameters")

// Updater is a Provider whose values can be replaced at runtime.
type Updater interface {
	Provider
	Update(p Params) error
	// Apply merges a partial JSON object onto the current values and stores
	// the result as one step, so concurrent patches never overwrite each other.
	Apply(patch []byte) (Params, error)
}

// patched merges patch onto p and validates the result.
func patched(p Params, patch []byte) (Params, error) {
	next, err := p.Merge(patch)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := next.Validate(); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return next, nil
}

// Memory is an in-memory Updater.
type Memory struct {
	mu      sync.RWMutex
	current Params
}

// NewMemory creates a Memory provider holding p.
func NewMemory(p Params) *Memory {
	return &Memory{current: p}
}

// Snapshot returns the current parameters.
func (m *Memory) Snapshot() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update validates and replaces the current parameters.
func (m *Memory) Update(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	m.mu.Lock()
	m.current = p
	m.mu.Unlock()
	return nil
}

// Apply merges patch onto the current parameters under the lock.
func (m *Memory) Apply(patch []byte) (Params, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := patched(m.current, patch)
	if err != nil {
		return m.current, err
	}
	m.current = next
	return next, nil
}

// Settings is an Updater persisted in the store's settings table, one row per key.
type Settings struct {
	mu      sync.RWMutex
	current Params

	// writeMu serializes writers across persist and swap; readers only take mu.
	writeMu sync.Mutex
	repo    *store.SettingsRepository
	logger  *slog.Logger
}

// NewSettings loads persisted overrides on top of defaults.
// Rows that fail to decode are logged and ignored.
func NewSettings(repo *store.SettingsRepository, defaults Params, logger *slog.Logger) (*Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Settings{
		current: defaults,
		repo:    repo,
		logger:  logger.With("component", "params"),
	}

	rows, err := repo.List()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	loaded := defaults
	for _, row := range rows {
		patch, err := json.Marshal(map[string]json.RawMessage{row.Key: json.RawMessage(row.Value)})
		if err != nil {
			continue
		}
		next, err := loaded.Merge(patch)
		if err != nil {
			s.logger.Warn("ignoring unreadable setting", "key", row.Key, "value", row.Value, "error", err)
			continue
		}
		loaded = next
	}

	if err := loaded.Validate(); err != nil {
		s.logger.Warn("persisted settings invalid, using defaults", "error", err)
		return s, nil
	}

	s.current = loaded
	if len(rows) > 0 {
		s.logger.Info("loaded persisted parameters", "count", len(rows))
	}
	return s, nil
}

// Snapshot returns the current parameters.
func (s *Settings) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates p, persists every key and swaps it in.
func (s *Settings) Update(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store(p)
}

// Apply merges patch onto the current parameters, persists and swaps in the
// result. Concurrent calls are applied one after the other.
func (s *Settings) Apply(patch []byte) (Params, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Snapshot()
	next, err := patched(current, patch)
	if err != nil {
		return current, err
	}
	if err := s.store(next); err != nil {
		return current, err
	}
	return next, nil
}

// store persists p and makes it current. The caller holds writeMu.
func (s *Settings) store(p Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[k] = string(v)
	}
	if err := s.repo.SetAll(values); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	s.logger.Info("parameters updated",
		"shoulder_width_threshold", p.ShoulderWidthThreshold,
		"presence_timeout", p.PresenceTimeout,
		"min_swipe_distance_fraction", p.MinSwipeDistanceFraction,
		"min_speed_px_per_s", p.MinSpeedPxPerS,
		"swipe_cooldown", p.SwipeCooldown,
		"detection_cadence_hz", p.CadenceHz,
	)
	return nil
}
