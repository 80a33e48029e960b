// Package event defines the detection events pushed to connected clients.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction is the horizontal direction of a recognized swipe.
type Direction string

const (
	// DirectionNone means no swipe was recognized.
	DirectionNone Direction = ""
	// DirectionLeft is a swipe towards the viewer's left.
	DirectionLeft Direction = "left"
	// DirectionRight is a swipe towards the viewer's right.
	DirectionRight Direction = "right"
)

// ParseDirection converts a wire value into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionNone, DirectionLeft, DirectionRight:
		return Direction(s), nil
	default:
		return DirectionNone, fmt.Errorf("unknown swipe direction %q", s)
	}
}

// DetectionEvent is a snapshot of the detector state at the moment it changed.
// It is created by the detection loop and handed off by value.
type DetectionEvent struct {
	ViewerPresent  bool
	SwipeDirection Direction
	Timestamp      time.Time

	// PresenceOnly omits swipe_direction from the encoded message.
	PresenceOnly bool
}

// HasSwipe reports whether the event carries a swipe.
func (e DetectionEvent) HasSwipe() bool {
	return e.SwipeDirection != DirectionNone
}

type wireEvent struct {
	ViewerPresent  bool    `json:"viewer_present"`
	SwipeDirection *string `json:"swipe_direction"`
	Timestamp      string  `json:"timestamp"`
}

type presenceOnlyEvent struct {
	ViewerPresent bool   `json:"viewer_present"`
	Timestamp     string `json:"timestamp"`
}

// MarshalJSON encodes the event as
// {"viewer_present": bool, "swipe_direction": "left"|"right"|null, "timestamp": "..."}.
func (e DetectionEvent) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp.Format(time.RFC3339Nano)
	if e.PresenceOnly {
		return json.Marshal(presenceOnlyEvent{ViewerPresent: e.ViewerPresent, Timestamp: ts})
	}

	w := wireEvent{ViewerPresent: e.ViewerPresent, Timestamp: ts}
	if e.HasSwipe() {
		dir := string(e.SwipeDirection)
		w.SwipeDirection = &dir
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON. A message
// without a swipe_direction key is decoded as a presence-only event.
func (e *DetectionEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out DetectionEvent
	if raw, ok := fields["viewer_present"]; ok {
		if err := json.Unmarshal(raw, &out.ViewerPresent); err != nil {
			return fmt.Errorf("parse viewer_present: %w", err)
		}
	}

	var ts string
	if raw, ok := fields["timestamp"]; ok {
		if err := json.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	out.Timestamp = parsed

	raw, ok := fields["swipe_direction"]
	if !ok {
		out.PresenceOnly = true
		*e = out
		return nil
	}

	var dir *string
	if err := json.Unmarshal(raw, &dir); err != nil {
		return fmt.Errorf("parse swipe_direction: %w", err)
	}
	if dir != nil {
		d, err := ParseDirection(*dir)
		if err != nil {
			return err
		}
		out.SwipeDirection = d
	}

	*e = out
	return nil
}
