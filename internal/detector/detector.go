package detector

import "gocv.io/x/gocv"

// Detector is the landmark source. Both methods treat "nothing found" as a
// valid result, not an error: DetectPose returns a nil pose and DetectHands an
// empty slice.
type Detector interface {
	// DetectPose returns the shoulders of the most prominent person, or nil.
	DetectPose(frame *gocv.Mat) (*Pose, error)

	// DetectHands returns every detected hand tagged with its side.
	DetectHands(frame *gocv.Mat) ([]Hand, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for landmark detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ModelComplexity selects the pose model size (0 = lite).
	ModelComplexity int

	// ScriptPath overrides the location of the landmark service script.
	ScriptPath string

	// Python overrides the interpreter used to run the script.
	Python string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		ModelComplexity: 0,
	}
}
