package hook

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ayusman/viewersense/internal/event"
)

// DefaultMaxConcurrent bounds hooks running at the same time.
const DefaultMaxConcurrent = 4

// Stats contains dispatcher counters.
type Stats struct {
	Runs    uint64
	Failed  uint64
	Skipped uint64
}

// Dispatcher turns detection events into hook runs. Publish never blocks:
// when every slot is busy the run is skipped.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	slots    *semaphore.Weighted
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	present bool

	runs    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// NewDispatcher creates a Dispatcher. maxConcurrent <= 0 uses DefaultMaxConcurrent.
func NewDispatcher(manager *Manager, executor *Executor, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   logger.With("component", "hook"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Triggers derives the triggers of ev given the previous presence state.
func Triggers(ev event.DetectionEvent, wasPresent bool) []Trigger {
	var out []Trigger
	if ev.ViewerPresent != wasPresent {
		if ev.ViewerPresent {
			out = append(out, TriggerViewerArrived)
		} else {
			out = append(out, TriggerViewerLeft)
		}
	}
	switch ev.SwipeDirection {
	case event.DirectionLeft:
		out = append(out, TriggerSwipeLeft)
	case event.DirectionRight:
		out = append(out, TriggerSwipeRight)
	}
	return out
}

// Publish starts the hooks matching ev.
func (d *Dispatcher) Publish(ev event.DetectionEvent) error {
	d.mu.Lock()
	triggers := Triggers(ev, d.present)
	d.present = ev.ViewerPresent
	d.mu.Unlock()

	for _, t := range triggers {
		for _, h := range d.manager.Match(t) {
			if !d.slots.TryAcquire(1) {
				d.skipped.Add(1)
				d.logger.Warn("hook skipped, too many running", "hook", h.Manifest.Name, "trigger", t)
				continue
			}
			d.wg.Add(1)
			go d.run(h, &Request{Trigger: t, Event: ev})
		}
	}
	return nil
}

func (d *Dispatcher) run(h *Hook, req *Request) {
	defer d.wg.Done()
	defer d.slots.Release(1)

	d.runs.Add(1)
	resp, err := d.executor.Execute(d.ctx, h, req)
	switch {
	case err != nil:
		d.failed.Add(1)
		d.logger.Warn("hook failed", "hook", h.Manifest.Name, "trigger", req.Trigger, "error", err)
	case !resp.Success:
		d.failed.Add(1)
		d.logger.Warn("hook reported failure", "hook", h.Manifest.Name, "trigger", req.Trigger, "error", resp.Error)
	default:
		d.logger.Debug("hook ran", "hook", h.Manifest.Name, "trigger", req.Trigger)
	}
}

// Close kills running hooks and waits for them to exit.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Wait blocks until running hooks finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Runs:    d.runs.Load(),
		Failed:  d.failed.Load(),
		Skipped: d.skipped.Load(),
	}
}
