package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	// Create test frames
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	// Read both frames
	f1, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f1.Close()

	f2, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f2.Close()

	// Third read should fail (no loop)
	_, err = cam.ReadFrame()
	if !errors.Is(err, ErrNoFrames) {
		t.Errorf("ReadFrame() error = %v, want ErrNoFrames", err)
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	// Should loop indefinitely
	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_NotOpen(t *testing.T) {
	cam := NewMockCamera(nil, false)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestMockCamera_FailNext(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	boom := errors.New("boom")
	cam.FailNext(2, boom)

	for i := 0; i < 2; i++ {
		if _, err := cam.ReadFrame(); !errors.Is(err, boom) {
			t.Errorf("read %d error = %v, want injected failure", i, err)
		}
	}

	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() after injected failures error = %v", err)
	}
	f.Close()

	if cam.Reads() != 3 {
		t.Errorf("Reads() = %d, want 3", cam.Reads())
	}
}
