package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrames is returned by MockCamera once a non-looping sequence is exhausted.
var ErrNoFrames = errors.New("no more frames")

// MockCamera plays back pre-recorded frames for testing
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
	fps     int

	failNext int
	failErr  error
	reads    int
}

func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads++

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if c.failNext != 0 {
		if c.failNext > 0 {
			c.failNext--
		}
		return nil, c.failErr
	}

	if len(c.frames) == 0 {
		return nil, ErrNoFrames
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoFrames
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// FailNext makes the next n reads return err. A negative n fails every read.
func (c *MockCamera) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
	c.failErr = err
}

// Reads returns how many times ReadFrame has been called.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
