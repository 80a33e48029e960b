// Package app wires capture, detection and broadcast into the running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/viewersense/internal/broadcast"
	"github.com/ayusman/viewersense/internal/capture"
	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/event"
	"github.com/ayusman/viewersense/internal/params"
)

// EventQueueSize is the capacity of the channel between the detection loop
// and the dispatcher.
const EventQueueSize = 16

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("app is already running")

// Publisher is a secondary event sink, such as the MQTT mirror. Publish must
// not block.
type Publisher interface {
	Publish(ev event.DetectionEvent) error
}

// Config holds the collaborators of the application.
type Config struct {
	Camera     capture.Camera
	Detector   detector.Detector
	Params     params.Provider
	Hub        *broadcast.Hub
	Publishers []Publisher

	// MaxFailures bounds consecutive camera read and detection failures.
	MaxFailures int

	// FrameInterval paces camera reads; zero reads as fast as the camera delivers.
	FrameInterval time.Duration

	// OnEvent, if set, is called from the dispatcher after each broadcast.
	OnEvent func(event.DetectionEvent)

	Clock  clock.Clock
	Logger *slog.Logger
}

// App owns the capture goroutine, the detection loop and the dispatcher.
type App struct {
	cfg     Config
	logger  *slog.Logger
	frames  *capture.LatestFrame
	events  chan event.DetectionEvent
	loop    *Loop
	running atomic.Bool
}

// New creates an App. Nothing is opened until Run.
func New(cfg Config) *App {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	frames := capture.NewLatestFrame()
	events := make(chan event.DetectionEvent, EventQueueSize)

	return &App{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "app"),
		frames: frames,
		events: events,
		loop: NewLoop(LoopConfig{
			Detector:    cfg.Detector,
			Frames:      frames,
			Params:      cfg.Params,
			Events:      events,
			MaxFailures: cfg.MaxFailures,
			Clock:       cfg.Clock,
			Logger:      cfg.Logger,
		}),
	}
}

// Status returns what the detection loop has seen so far.
func (a *App) Status() Status {
	return a.loop.Status()
}

// ViewerPresent reports the current debounced presence.
func (a *App) ViewerPresent() bool {
	return a.loop.Status().Present
}

// FrameStats returns the capture slot counters.
func (a *App) FrameStats() (published, taken, drops uint64) {
	return a.frames.Stats()
}

// Run opens the camera and runs until ctx is cancelled or a component fails.
// Extra services (typically the HTTP server) run in the same group and are
// stopped together with it. On return the hub has closed every client and the
// camera and detector are released. A cancelled ctx is not an error.
func (a *App) Run(ctx context.Context, services ...func(context.Context) error) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := a.cfg.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer a.release()

	reader := capture.NewReader(a.cfg.Camera, a.frames, capture.ReaderConfig{
		MaxFailures:   a.cfg.MaxFailures,
		FrameInterval: a.cfg.FrameInterval,
		Logger:        a.cfg.Logger,
		Clock:         a.cfg.Clock,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := reader.Run(gctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSourceFailed, err)
		}
		return nil
	})

	g.Go(func() error {
		defer close(a.events)
		return a.loop.Run(gctx)
	})

	g.Go(func() error {
		a.dispatch(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.cfg.Hub.Close()
		return nil
	})

	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}

	a.logger.Info("viewersense running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.logger.Error("stopped on failure", "error", err)
	} else {
		a.logger.Info("stopped")
	}
	return err
}

// dispatch forwards events in creation order until the loop closes the channel.
func (a *App) dispatch(ctx context.Context) {
	for ev := range a.events {
		if ctx.Err() != nil {
			continue
		}

		res, err := a.cfg.Hub.Broadcast(ctx, ev)
		if err != nil {
			a.logger.Error("broadcast failed", "error", err)
			continue
		}
		a.logger.Debug("event broadcast",
			"viewer_present", ev.ViewerPresent,
			"swipe_direction", string(ev.SwipeDirection),
			"delivered", res.Delivered,
			"dropped", res.Dropped,
		)

		for _, p := range a.cfg.Publishers {
			if err := p.Publish(ev); err != nil {
				a.logger.Debug("publish failed", "error", err)
			}
		}

		if a.cfg.OnEvent != nil {
			a.cfg.OnEvent(ev)
		}
	}
}

func (a *App) release() {
	a.frames.Close()

	if err := a.cfg.Camera.Close(); err != nil {
		a.logger.Warn("close camera", "error", err)
	}
	if err := a.cfg.Detector.Close(); err != nil {
		a.logger.Warn("close detector", "error", err)
	}
}
