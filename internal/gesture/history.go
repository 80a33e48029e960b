// Package gesture recognizes horizontal hand swipes from short palm position histories.
package gesture

import "time"

// Sample is one observation of a palm's horizontal pixel position.
type Sample struct {
	At time.Time
	X  float64
}

// History is a time-bounded, time-ordered sequence of samples for one hand.
// After every Add, no sample is older than the window relative to the newest one.
type History struct {
	samples []Sample
}

// Add appends s and drops samples older than window from the front.
// A sample older than the newest entry means the clock went backwards; the
// history restarts from s in that case.
func (h *History) Add(s Sample, window time.Duration) {
	if n := len(h.samples); n > 0 && s.At.Before(h.samples[n-1].At) {
		h.samples = h.samples[:0]
	}
	h.samples = append(h.samples, s)

	drop := 0
	for drop < len(h.samples) && s.At.Sub(h.samples[drop].At) > window {
		drop++
	}
	if drop > 0 {
		// Shift left so the backing array does not grow without bound
		n := copy(h.samples, h.samples[drop:])
		h.samples = h.samples[:n]
	}
}

// Len returns the number of samples held.
func (h *History) Len() int {
	return len(h.samples)
}

// Clear drops every sample.
func (h *History) Clear() {
	h.samples = h.samples[:0]
}

// Span returns the displacement and elapsed time between the oldest and newest samples.
// ok is false when fewer than two samples are held.
func (h *History) Span() (movement float64, elapsed time.Duration, ok bool) {
	if len(h.samples) < 2 {
		return 0, 0, false
	}
	first := h.samples[0]
	last := h.samples[len(h.samples)-1]
	return last.X - first.X, last.At.Sub(first.At), true
}

// Samples returns a copy of the held samples, oldest first.
func (h *History) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}
