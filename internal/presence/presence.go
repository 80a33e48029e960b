// Package presence debounces a per-frame proximity signal into a viewer presence state.
package presence

import (
	"time"

	"github.com/ayusman/viewersense/internal/detector"
)

// Params are the thresholds the detector reads each cycle.
type Params struct {
	// ShoulderWidthThreshold is the normalized shoulder width a viewer must exceed.
	ShoulderWidthThreshold float64
	// Timeout is how long presence survives without a qualifying frame.
	Timeout time.Duration
}

// State is the debounced presence state.
type State struct {
	Present  bool
	LastSeen time.Time
}

// Detector turns pose landmarks into a presence state with hysteresis:
// presence turns on at the first close-enough frame and turns off only after
// no close-enough frame has been seen for longer than the timeout.
//
// Detector is not safe for concurrent use; it is owned by the detection loop.
type Detector struct {
	state State
}

// New creates a Detector in the absent state.
func New() *Detector {
	return &Detector{}
}

// IsClose reports whether pose shows a viewer within the proximity threshold.
// A nil pose is never close.
func IsClose(pose *detector.Pose, threshold float64) bool {
	if pose == nil {
		return false
	}
	return pose.ShoulderWidth() > threshold
}

// Evaluate updates the state for one cycle and reports whether Present flipped.
func (d *Detector) Evaluate(pose *detector.Pose, p Params, now time.Time) bool {
	if IsClose(pose, p.ShoulderWidthThreshold) {
		d.state.LastSeen = now
		if !d.state.Present {
			d.state.Present = true
			return true
		}
		return false
	}

	if d.state.Present && now.Sub(d.state.LastSeen) > p.Timeout {
		d.state.Present = false
		return true
	}

	return false
}

// Present returns the current debounced presence.
func (d *Detector) Present() bool {
	return d.state.Present
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	return d.state
}

// Remaining returns how much of the grace period is left at now, or zero when absent.
func (d *Detector) Remaining(p Params, now time.Time) time.Duration {
	if !d.state.Present {
		return 0
	}
	left := p.Timeout - now.Sub(d.state.LastSeen)
	if left < 0 {
		return 0
	}
	return left
}

// Reset returns the detector to the absent state.
func (d *Detector) Reset() {
	d.state = State{}
}
