package capture

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image with its metadata. The frame owns Mat; whoever
// holds the frame last must Close it.
type Frame struct {
	Mat        *gocv.Mat
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// NewFrame wraps mat, reading its dimensions.
func NewFrame(mat *gocv.Mat, seq uint64, at time.Time) *Frame {
	f := &Frame{Mat: mat, Seq: seq, CapturedAt: at}
	if mat != nil {
		f.Width = mat.Cols()
		f.Height = mat.Rows()
	}
	return f
}

// Close releases the underlying image. It is safe on a nil frame or Mat.
func (f *Frame) Close() {
	if f == nil || f.Mat == nil {
		return
	}
	f.Mat.Close()
	f.Mat = nil
}
