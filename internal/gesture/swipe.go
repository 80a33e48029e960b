package gesture

import (
	"math"
	"time"

	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/event"
)

// Params are the thresholds the swipe detector reads each cycle.
type Params struct {
	// FrameWidth is the frame width in pixels used to scale the distance threshold.
	FrameWidth float64
	// MinDistanceFraction is the minimum displacement as a fraction of FrameWidth.
	MinDistanceFraction float64
	// MinSpeed is the minimum speed in pixels per second.
	MinSpeed float64
	// Cooldown is the minimum spacing between two recognized swipes.
	Cooldown time.Duration
	// Window bounds the age of samples kept per hand.
	Window time.Duration
}

// Observation is one detected palm in the current cycle.
type Observation struct {
	Side detector.Side
	X    float64 // palm center in pixels
}

// SwipeDetector keeps one History per hand side and recognizes swipes by
// displacement and speed over the window. It is owned by the detection loop
// and is not safe for concurrent use.
type SwipeDetector struct {
	left      History
	right     History
	lastSwipe time.Time
	swiped    bool
}

// NewSwipeDetector creates a SwipeDetector with empty histories.
func NewSwipeDetector() *SwipeDetector {
	return &SwipeDetector{}
}

func (d *SwipeDetector) history(side detector.Side) *History {
	switch side {
	case detector.SideLeft:
		return &d.left
	case detector.SideRight:
		return &d.right
	default:
		return nil
	}
}

// History returns a copy of the samples currently held for side.
func (d *SwipeDetector) History(side detector.Side) []Sample {
	if h := d.history(side); h != nil {
		return h.Samples()
	}
	return nil
}

// Evaluate feeds this cycle's palms and returns the recognized direction, if any.
//
// A side with no palm this cycle has its history cleared. While the cooldown
// is running nothing is recorded. Of several qualifying hands the first one in
// hands wins, and at most one swipe is returned per cycle.
func (d *SwipeDetector) Evaluate(hands []Observation, p Params, now time.Time) event.Direction {
	var seen [3]bool
	observed := make([]Observation, 0, 2)
	for _, o := range hands {
		if d.history(o.Side) == nil || seen[o.Side] {
			continue
		}
		seen[o.Side] = true
		observed = append(observed, o)
	}

	if !seen[detector.SideLeft] {
		d.left.Clear()
	}
	if !seen[detector.SideRight] {
		d.right.Clear()
	}
	if len(observed) == 0 {
		return event.DirectionNone
	}

	if d.InCooldown(p, now) {
		return event.DirectionNone
	}

	for _, o := range observed {
		d.history(o.Side).Add(Sample{At: now, X: o.X}, p.Window)
	}

	minDistance := p.FrameWidth * p.MinDistanceFraction
	for _, o := range observed {
		h := d.history(o.Side)

		movement, elapsed, ok := h.Span()
		if !ok || elapsed <= 0 {
			continue
		}

		speed := math.Abs(movement) / elapsed.Seconds()
		if math.Abs(movement) > minDistance && speed > p.MinSpeed {
			h.Clear()
			d.lastSwipe = now
			d.swiped = true
			return MapDirection(o.Side, movement)
		}
	}

	return event.DirectionNone
}

// InCooldown reports whether a swipe was recognized less than the cooldown ago.
func (d *SwipeDetector) InCooldown(p Params, now time.Time) bool {
	return d.swiped && now.Sub(d.lastSwipe) < p.Cooldown
}

// ClearHistory drops both histories and keeps the cooldown.
func (d *SwipeDetector) ClearHistory() {
	d.left.Clear()
	d.right.Clear()
}

// MapDirection converts a palm displacement into a swipe direction. The
// camera image is mirrored, so the two hands map opposite ways: a right hand
// moving towards lower x swipes left, a left hand moving towards lower x
// swipes right.
func MapDirection(side detector.Side, movement float64) event.Direction {
	switch side {
	case detector.SideRight:
		if movement < 0 {
			return event.DirectionLeft
		}
		return event.DirectionRight
	case detector.SideLeft:
		if movement < 0 {
			return event.DirectionRight
		}
		return event.DirectionLeft
	default:
		return event.DirectionNone
	}
}
