package capture

import (
	"errors"
	"testing"
)

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantFPS int
	}{
		{
			name:    "defaults",
			opts:    DefaultOptions(),
			wantFPS: DefaultFPS,
		},
		{
			name:    "zero options fall back to defaults",
			opts:    Options{Device: 1},
			wantFPS: DefaultFPS,
		},
		{
			name:    "explicit rate",
			opts:    Options{Device: 2, Width: 1280, Height: 720, FPS: 60},
			wantFPS: 60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(tt.opts)

			if cam == nil {
				t.Fatal("NewCamera returned nil")
			}
			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
			if cam.IsOpen() {
				t.Error("camera should not be running initially")
			}
		})
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(DefaultOptions())

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{name: "set to 10", fps: 10, wantFPS: 10},
		{name: "set to 1", fps: 1, wantFPS: 1},
		{name: "zero keeps previous", fps: 0, wantFPS: 1},
		{name: "negative keeps previous", fps: -5, wantFPS: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)

			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
		})
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(DefaultOptions())

	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}

	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		}
		if mat.Cols() != DefaultWidth || mat.Rows() != DefaultHeight {
			t.Logf("Frame dimensions: %dx%d (camera may not support %dx%d)", mat.Cols(), mat.Rows(), DefaultWidth, DefaultHeight)
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(DefaultOptions())

	_, err := cam.ReadFrame()
	if !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(DefaultOptions())

	if err := cam.Close(); err != nil {
		t.Errorf("Close() on not opened camera should return nil, got: %v", err)
	}
}
