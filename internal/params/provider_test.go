package params

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/viewersense/internal/store"
)

func TestMemory(t *testing.T) {
	m := NewMemory(Default())

	t.Run("snapshot returns initial values", func(t *testing.T) {
		if got := m.Snapshot(); got != Default() {
			t.Errorf("Snapshot() = %+v, want defaults", got)
		}
	})

	t.Run("update replaces values", func(t *testing.T) {
		p := Default()
		p.ShoulderWidthThreshold = 0.4
		if err := m.Update(p); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got := m.Snapshot().ShoulderWidthThreshold; got != 0.4 {
			t.Errorf("ShoulderWidthThreshold = %v, want 0.4", got)
		}
	})

	t.Run("invalid update is rejected", func(t *testing.T) {
		p := Default()
		p.PresenceTimeout = 0
		if err := m.Update(p); err == nil {
			t.Fatal("expected error")
		}
		if got := m.Snapshot().PresenceTimeout; got != DefaultPresenceTimeout {
			t.Errorf("PresenceTimeout = %v, want unchanged %v", got, DefaultPresenceTimeout)
		}
	})

	t.Run("implements Updater", func(t *testing.T) {
		var _ Updater = (*Memory)(nil)
	})
}

func TestSettings_PersistsAcrossRestarts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "params.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	s, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() error = %v", err)
	}

	if got := s.Snapshot(); got != Default() {
		t.Fatalf("fresh store should yield defaults, got %+v", got)
	}

	p := Default()
	p.ShoulderWidthThreshold = 0.35
	p.SwipeCooldown = 1500 * time.Millisecond
	p.PresenceOnly = true
	if err := s.Update(p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	st.Close()

	st, err = store.New(dbPath)
	if err != nil {
		t.Fatalf("reopen store error = %v", err)
	}
	defer st.Close()

	reloaded, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() after restart error = %v", err)
	}

	if got := reloaded.Snapshot(); got != p {
		t.Errorf("Snapshot() after restart = %+v, want %+v", got, p)
	}
}

func TestSettings_IgnoresBadRows(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "params.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	if err := st.Settings().Set("presence_timeout", `"forever"`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Settings().Set("min_speed_px_per_s", "800"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	s, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() error = %v", err)
	}

	got := s.Snapshot()
	if got.PresenceTimeout != DefaultPresenceTimeout {
		t.Errorf("PresenceTimeout = %v, want default", got.PresenceTimeout)
	}
	if got.MinSpeedPxPerS != 800 {
		t.Errorf("MinSpeedPxPerS = %v, want 800", got.MinSpeedPxPerS)
	}
}

func TestSettings_RejectsInvalidUpdate(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "params.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	s, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() error = %v", err)
	}

	p := Default()
	p.CadenceHz = 0
	if err := s.Update(p); err == nil {
		t.Fatal("expected error")
	}

	rows, err := st.Settings().List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("invalid update should not persist, found %d rows", len(rows))
	}
}

func TestMemory_Apply(t *testing.T) {
	m := NewMemory(Default())

	got, err := m.Apply([]byte(`{"min_speed_px_per_s": 750}`))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.MinSpeedPxPerS != 750 || got.ShoulderWidthThreshold != DefaultShoulderWidthThreshold {
		t.Errorf("Apply() = %+v, want only min speed changed", got)
	}
	if m.Snapshot() != got {
		t.Error("Snapshot() should return the applied values")
	}

	for _, patch := range []string{`{"min_speed_px_per_s": -1}`, `{"min_speed_px_per_s":`} {
		if _, err := m.Apply([]byte(patch)); !errors.Is(err, ErrInvalid) {
			t.Errorf("Apply(%s) error = %v, want ErrInvalid", patch, err)
		}
	}
	if m.Snapshot().MinSpeedPxPerS != 750 {
		t.Error("rejected patches must not change the values")
	}
}

func TestSettings_ConcurrentApply(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "params.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	s, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() error = %v", err)
	}

	// Each goroutine touches a different key; none may be lost.
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var patch string
			if i%2 == 0 {
				patch = fmt.Sprintf(`{"min_speed_px_per_s": %d}`, 600+i)
			} else {
				patch = `{"presence_only": true}`
			}
			if _, err := s.Apply([]byte(patch)); err != nil {
				t.Errorf("Apply() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got := s.Snapshot()
	if !got.PresenceOnly || got.MinSpeedPxPerS < 600 {
		t.Errorf("Snapshot() = %+v, want both patched keys kept", got)
	}

	reloaded, err := NewSettings(st.Settings(), Default(), nil)
	if err != nil {
		t.Fatalf("NewSettings() error = %v", err)
	}
	if reloaded.Snapshot() != got {
		t.Errorf("persisted %+v, want the in-memory %+v", reloaded.Snapshot(), got)
	}
}
