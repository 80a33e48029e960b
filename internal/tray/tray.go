// Package tray provides a system tray status menu for viewersense.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/viewersense/internal/event"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(enabled bool)
	onSettings func()
	onQuit     func()
	swipes     bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuPresence  *systray.MenuItem
	menuLastSwipe *systray.MenuItem
	menuClients   *systray.MenuItem
	menuToggle    *systray.MenuItem

	present   bool
	lastSwipe event.Direction
	swipeAt   time.Time
	clients   int
}

// New creates a new Tray instance with swipe detection shown as enabled.
func New() *Tray {
	return &Tray{
		swipes: true,
	}
}

// OnToggle sets the callback called when swipe detection is switched on or off.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// SetSwipesEnabled sets the initial toggle state. Call before Run.
func (t *Tray) SetSwipesEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swipes = enabled
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("viewersense")
	systray.SetTooltip("viewersense presence and swipe detection")

	t.mu.Lock()
	t.menuPresence = systray.AddMenuItem(presenceTitle(t.present), "Viewer presence")
	t.menuPresence.Disable()
	t.menuLastSwipe = systray.AddMenuItem(swipeTitle(t.lastSwipe, t.swipeAt), "Last detected swipe")
	t.menuLastSwipe.Disable()
	t.menuClients = systray.AddMenuItem(clientsTitle(t.clients), "Connected clients")
	t.menuClients.Disable()
	systray.AddSeparator()

	t.menuToggle = systray.AddMenuItem(toggleTitle(t.swipes), "Toggle swipe detection")
	menuToggle := t.menuToggle
	t.mu.Unlock()

	menuSettings := systray.AddMenuItem("Show Parameters...", "Open the parameter API in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit viewersense")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.swipes = !t.swipes
	enabled := t.swipes

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// HandleEvent updates the menu from a broadcast event. It has the signature
// of the dispatcher's event hook.
func (t *Tray) HandleEvent(ev event.DetectionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.present = ev.ViewerPresent
	if ev.HasSwipe() {
		t.lastSwipe = ev.SwipeDirection
		t.swipeAt = ev.Timestamp
	}

	if t.menuPresence != nil {
		t.menuPresence.SetTitle(presenceTitle(t.present))
	}
	if t.menuLastSwipe != nil {
		t.menuLastSwipe.SetTitle(swipeTitle(t.lastSwipe, t.swipeAt))
	}
}

// SetClients updates the connected client count.
func (t *Tray) SetClients(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clients = n
	if t.menuClients != nil {
		t.menuClients.SetTitle(clientsTitle(n))
	}
}

// SwipesEnabled returns the current toggle state.
func (t *Tray) SwipesEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.swipes
}

func presenceTitle(present bool) string {
	if present {
		return "● Viewer present"
	}
	return "○ No viewer"
}

func swipeTitle(dir event.Direction, at time.Time) string {
	if dir == event.DirectionNone {
		return "Last swipe: none"
	}
	return fmt.Sprintf("Last swipe: %s at %s", dir, at.Format("15:04:05"))
}

func clientsTitle(n int) string {
	if n == 1 {
		return "1 client"
	}
	return fmt.Sprintf("%d clients", n)
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Swipes enabled"
	}
	return "○ Swipes disabled"
}
