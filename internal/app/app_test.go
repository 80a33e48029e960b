package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/viewersense/internal/broadcast"
	"github.com/ayusman/viewersense/internal/capture"
	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/event"
	"github.com/ayusman/viewersense/internal/params"
)

type recordingConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (c *recordingConn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, append([]byte(nil), msg...))
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) snapshot() ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...), c.closed
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.DetectionEvent
}

func (p *recordingPublisher) Publish(ev event.DetectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestApp(t *testing.T, det *detector.MockDetector, cam *capture.MockCamera, hub *broadcast.Hub, pub Publisher) *App {
	t.Helper()
	p := params.Default()
	p.CadenceHz = params.MaxCadenceHz

	cfg := Config{
		Camera:        cam,
		Detector:      det,
		Params:        params.NewMemory(p),
		Hub:           hub,
		MaxFailures:   3,
		FrameInterval: 5 * time.Millisecond,
		Logger:        discardLogger(),
	}
	if pub != nil {
		cfg.Publishers = []Publisher{pub}
	}
	return New(cfg)
}

func TestApp_RunBroadcastsPresence(t *testing.T) {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	det := detector.NewMockDetector()
	det.SetPose(closePose())
	cam := capture.NewMockCamera([]*gocv.Mat{&mat}, true)
	hub := broadcast.NewHub(broadcast.Config{Logger: discardLogger()})
	pub := &recordingPublisher{}

	client := &recordingConn{}
	if _, err := hub.Register(client, "test"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var hookMu sync.Mutex
	var hooked []event.DetectionEvent
	a := newTestApp(t, det, cam, hub, pub)
	a.cfg.OnEvent = func(ev event.DetectionEvent) {
		hookMu.Lock()
		hooked = append(hooked, ev)
		hookMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs, _ := client.snapshot(); len(msgs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs, closed := client.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("client got %d messages, want exactly the presence change", len(msgs))
	}
	var got map[string]any
	if err := json.Unmarshal(msgs[0], &got); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if got["viewer_present"] != true || got["swipe_direction"] != nil {
		t.Errorf("message = %s, want viewer present without swipe", msgs[0])
	}
	if !closed {
		t.Error("hub should close clients on shutdown")
	}
	if pub.count() != 1 {
		t.Errorf("publisher got %d events, want 1", pub.count())
	}
	hookMu.Lock()
	if len(hooked) != 1 {
		t.Errorf("OnEvent called %d times, want 1", len(hooked))
	}
	hookMu.Unlock()
	if cam.IsOpen() {
		t.Error("camera should be closed after Run")
	}
	if !a.Status().Present {
		t.Error("Status() should report the viewer present")
	}
}

func TestApp_RunStopsOnDetectorFailure(t *testing.T) {
	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	det := detector.NewMockDetector()
	det.SetError(errors.New("service crashed"))
	cam := capture.NewMockCamera([]*gocv.Mat{&mat}, true)
	hub := broadcast.NewHub(broadcast.Config{Logger: discardLogger()})

	a := newTestApp(t, det, cam, hub, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Run(ctx)
	if !errors.Is(err, ErrSourceFailed) {
		t.Fatalf("Run() error = %v, want ErrSourceFailed", err)
	}
	if _, err := hub.Register(&recordingConn{}, "late"); !errors.Is(err, broadcast.ErrClosed) {
		t.Errorf("hub should be closed after failure, Register() error = %v", err)
	}
}

func TestApp_RunStopsOnCameraFailure(t *testing.T) {
	det := detector.NewMockDetector()
	cam := capture.NewMockCamera(nil, false)
	cam.FailNext(-1, errors.New("device unplugged"))
	hub := broadcast.NewHub(broadcast.Config{Logger: discardLogger()})

	a := newTestApp(t, det, cam, hub, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Run(ctx)
	if !errors.Is(err, ErrSourceFailed) || !errors.Is(err, capture.ErrTooManyFailures) {
		t.Fatalf("Run() error = %v, want ErrSourceFailed wrapping ErrTooManyFailures", err)
	}
}

func TestApp_RunServices(t *testing.T) {
	det := detector.NewMockDetector()
	cam := capture.NewMockCamera(nil, false)
	hub := broadcast.NewHub(broadcast.Config{Logger: discardLogger()})
	a := newTestApp(t, det, cam, hub, nil)

	serviceErr := errors.New("listen: address in use")
	err := a.Run(context.Background(), func(ctx context.Context) error {
		return serviceErr
	})
	if !errors.Is(err, serviceErr) {
		t.Errorf("Run() error = %v, want the service error", err)
	}

	if err := a.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}
