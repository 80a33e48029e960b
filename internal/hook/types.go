// Package hook runs user-supplied executables when detection events occur.
package hook

import (
	"fmt"

	"github.com/ayusman/viewersense/internal/event"
)

// Trigger names the kind of occurrence a hook subscribes to.
type Trigger string

const (
	TriggerViewerArrived Trigger = "viewer_arrived"
	TriggerViewerLeft    Trigger = "viewer_left"
	TriggerSwipeLeft     Trigger = "swipe_left"
	TriggerSwipeRight    Trigger = "swipe_right"
)

// ParseTrigger validates a trigger name from a manifest.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerViewerArrived, TriggerViewerLeft, TriggerSwipeLeft, TriggerSwipeRight:
		return t, nil
	default:
		return "", fmt.Errorf("unknown trigger %q", s)
	}
}

// Manifest is the hook.json file found in each hook directory.
type Manifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Triggers    []string `json:"triggers"`
}

// Request is written as JSON to the hook's stdin.
type Request struct {
	Trigger Trigger              `json:"trigger"`
	Event   event.DetectionEvent `json:"event"`
}

// Response is read as JSON from the hook's stdout. Empty output counts as success.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Triggers   []Trigger
	Path       string
	Executable string
}

// Handles reports whether the hook subscribes to t.
func (h *Hook) Handles(t Trigger) bool {
	for _, ht := range h.Triggers {
		if ht == t {
			return true
		}
	}
	return false
}
