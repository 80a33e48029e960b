package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/viewersense/internal/capture"
	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/event"
	"github.com/ayusman/viewersense/internal/gesture"
	"github.com/ayusman/viewersense/internal/params"
	"github.com/ayusman/viewersense/internal/presence"
)

// DefaultMaxFailures is the number of consecutive failed detection cycles
// tolerated before the loop gives up.
const DefaultMaxFailures = 30

// ErrSourceFailed is returned when the camera or the landmark source keeps failing.
var ErrSourceFailed = errors.New("frame or landmark source failed")

// FrameSource hands out the newest captured frame, if a new one arrived.
type FrameSource interface {
	Take() (*capture.Frame, bool)
}

// LoopConfig wires the detection loop to its collaborators.
type LoopConfig struct {
	Detector    detector.Detector
	Frames      FrameSource
	Params      params.Provider
	Events      chan<- event.DetectionEvent
	MaxFailures int
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Status is a snapshot of what the loop has seen so far.
type Status struct {
	Present     bool
	LastSwipe   event.Direction
	LastSwipeAt time.Time
	Cycles      uint64
	Events      uint64
	Failures    int
}

// Loop runs presence and swipe detection at a bounded cadence and emits an
// event whenever presence flips or a swipe is recognized.
type Loop struct {
	cfg      LoopConfig
	clock    clock.Clock
	logger   *slog.Logger
	presence *presence.Detector
	swipe    *gesture.SwipeDetector

	mu     sync.RWMutex
	status Status
}

// NewLoop creates a detection loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "detection"),
		presence: presence.New(),
		swipe:    gesture.NewSwipeDetector(),
	}
}

// Status returns a copy of the loop status.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Run ticks at the configured cadence until ctx is done. Each tick takes the
// newest frame; ticks with no new frame are skipped. The cadence is re-read
// every tick so parameter edits apply without a restart.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.cfg.Params.Snapshot().Interval()
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	l.logger.Info("detection loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("detection loop stopped")
			return nil
		case <-ticker.C:
		}

		p := l.cfg.Params.Snapshot()
		if next := p.Interval(); next != interval {
			interval = next
			ticker.Reset(interval)
			l.logger.Info("detection cadence changed", "interval", interval)
		}

		frame, ok := l.cfg.Frames.Take()
		if !ok {
			continue
		}

		ev, emit, err := l.Step(frame, p, l.clock.Now())
		frame.Close()

		if err := l.recordFailure(err); err != nil {
			return err
		}

		if !emit {
			continue
		}
		select {
		case l.cfg.Events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// recordFailure tracks consecutive failed cycles and returns an error once
// the limit is reached.
func (l *Loop) recordFailure(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		if l.status.Failures > 0 {
			l.logger.Info("landmark source recovered", "failed_cycles", l.status.Failures)
		}
		l.status.Failures = 0
		return nil
	}

	l.status.Failures++
	l.logger.Warn("detection cycle failed", "error", err, "consecutive", l.status.Failures)
	if l.status.Failures >= l.cfg.MaxFailures {
		return fmt.Errorf("%w: %d consecutive detection failures: %v", ErrSourceFailed, l.status.Failures, err)
	}
	return nil
}

// Step runs one detection cycle on frame. It returns the event to emit, if
// any, and the landmark error that made the cycle incomplete. A presence
// change is still reported when hand detection fails.
func (l *Loop) Step(frame *capture.Frame, p params.Params, now time.Time) (event.DetectionEvent, bool, error) {
	pose, err := l.cfg.Detector.DetectPose(frame.Mat)
	if err != nil {
		l.bumpCycles()
		return event.DetectionEvent{}, false, fmt.Errorf("detect pose: %w", err)
	}

	changed := l.presence.Evaluate(pose, presence.Params{
		ShoulderWidthThreshold: p.ShoulderWidthThreshold,
		Timeout:                p.PresenceTimeout,
	}, now)
	present := l.presence.Present()

	if changed {
		l.logger.Info("viewer presence changed", "present", present)
	}

	dir := event.DirectionNone
	var stepErr error
	switch {
	case !present || p.PresenceOnly:
		l.swipe.ClearHistory()
	default:
		dir, stepErr = l.detectSwipe(frame, p, now)
	}

	l.mu.Lock()
	l.status.Cycles++
	l.status.Present = present
	if dir != event.DirectionNone {
		l.status.LastSwipe = dir
		l.status.LastSwipeAt = now
	}
	emit := changed || dir != event.DirectionNone
	if emit {
		l.status.Events++
	}
	l.mu.Unlock()

	if !emit {
		return event.DetectionEvent{}, false, stepErr
	}
	return event.DetectionEvent{
		ViewerPresent:  present,
		SwipeDirection: dir,
		Timestamp:      now,
		PresenceOnly:   p.PresenceOnly,
	}, true, stepErr
}

func (l *Loop) detectSwipe(frame *capture.Frame, p params.Params, now time.Time) (event.Direction, error) {
	hands, err := l.cfg.Detector.DetectHands(frame.Mat)
	if err != nil {
		return event.DirectionNone, fmt.Errorf("detect hands: %w", err)
	}

	width := float64(frame.Width)
	obs := make([]gesture.Observation, 0, len(hands))
	for _, h := range hands {
		obs = append(obs, gesture.Observation{Side: h.Side, X: h.Palm().X * width})
	}

	dir := l.swipe.Evaluate(obs, gesture.Params{
		FrameWidth:          width,
		MinDistanceFraction: p.MinSwipeDistanceFraction,
		MinSpeed:            p.MinSpeedPxPerS,
		Cooldown:            p.SwipeCooldown,
		Window:              p.HistoryWindow,
	}, now)
	if dir != event.DirectionNone {
		l.logger.Info("swipe detected", "direction", dir)
	}
	return dir, nil
}

func (l *Loop) bumpCycles() {
	l.mu.Lock()
	l.status.Cycles++
	l.mu.Unlock()
}
