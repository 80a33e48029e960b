package capture

import (
	"sync"
)

// LatestFrame is a single-slot mailbox between the capture goroutine and the
// detection loop. Put overwrites any frame that was not taken yet; the
// overwritten frame is closed and counted as a drop. Take never blocks.
type LatestFrame struct {
	mu     sync.Mutex
	frame  *Frame
	closed bool

	published uint64
	taken     uint64
	drops     uint64
}

// NewLatestFrame returns an empty slot.
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

// Put stores f as the newest frame. After Close the frame is released
// immediately and false is returned.
func (l *LatestFrame) Put(f *Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		f.Close()
		return false
	}

	if l.frame != nil {
		l.frame.Close()
		l.drops++
	}
	l.frame = f
	l.published++
	return true
}

// Take removes and returns the newest frame. ok is false when no frame
// arrived since the previous Take. The caller owns the returned frame.
func (l *LatestFrame) Take() (f *Frame, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame == nil {
		return nil, false
	}
	f, l.frame = l.frame, nil
	l.taken++
	return f, true
}

// Stats returns how many frames were published, taken and dropped.
func (l *LatestFrame) Stats() (published, taken, drops uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published, l.taken, l.drops
}

// Drops returns the number of frames overwritten before they were taken.
func (l *LatestFrame) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Close releases any pending frame and rejects later Puts.
func (l *LatestFrame) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.frame != nil {
		l.frame.Close()
		l.frame = nil
	}
}
