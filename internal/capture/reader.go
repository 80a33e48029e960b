package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Reader defaults.
const (
	DefaultMaxFailures = 30
	DefaultRetryDelay  = 100 * time.Millisecond
)

// ErrTooManyFailures is returned by Reader.Run after MaxFailures reads in a row failed.
var ErrTooManyFailures = errors.New("capture: too many consecutive read failures")

// ReaderConfig tunes the capture goroutine.
type ReaderConfig struct {
	// MaxFailures is the number of consecutive failed reads tolerated.
	MaxFailures int
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
	// FrameInterval paces successful reads; zero reads as fast as the camera delivers.
	FrameInterval time.Duration
	Logger        *slog.Logger
	Clock         clock.Clock
}

// Reader pulls frames from a Camera into a LatestFrame.
type Reader struct {
	cam    Camera
	out    *LatestFrame
	cfg    ReaderConfig
	logger *slog.Logger
	clock  clock.Clock
}

// NewReader creates a reader that publishes frames from cam into out.
func NewReader(cam Camera, out *LatestFrame, cfg ReaderConfig) *Reader {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Reader{
		cam:    cam,
		out:    out,
		cfg:    cfg,
		logger: logger.With("component", "capture"),
		clock:  clk,
	}
}

// Run reads frames until ctx is cancelled, returning nil, or until too many
// reads fail in a row, returning an error wrapping ErrTooManyFailures. The
// camera must already be open.
func (r *Reader) Run(ctx context.Context) error {
	var seq uint64
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		mat, err := r.cam.ReadFrame()
		if err != nil {
			failures++
			if failures >= r.cfg.MaxFailures {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, failures, err)
			}
			r.logger.Debug("frame read failed", "error", err, "consecutive", failures)
			if !r.sleep(ctx, r.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		if failures > 0 {
			r.logger.Info("camera recovered", "failed_reads", failures)
			failures = 0
		}

		seq++
		r.out.Put(NewFrame(mat, seq, r.clock.Now()))

		if r.cfg.FrameInterval > 0 && !r.sleep(ctx, r.cfg.FrameInterval) {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether to keep going.
func (r *Reader) sleep(ctx context.Context, d time.Duration) bool {
	timer := r.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
