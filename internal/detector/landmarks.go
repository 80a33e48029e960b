// Package detector provides the landmark source interface and types consumed by the presence and swipe detectors.
package detector

import (
	"fmt"
	"strings"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Pose landmark indices used from the MediaPipe pose model.
const (
	PoseLeftShoulder  = 11
	PoseRightShoulder = 12
)

// Point is a keypoint position normalized to frame dimensions, both axes in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Side identifies which hand a landmark set belongs to.
type Side int

const (
	// SideUnknown is used when handedness could not be parsed.
	SideUnknown Side = iota
	// SideLeft is the left hand as reported by the model.
	SideLeft
	// SideRight is the right hand as reported by the model.
	SideRight
)

// String returns the lowercase side name.
func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// ParseSide converts a handedness label such as "Left" or "right" into a Side.
func ParseSide(label string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "left":
		return SideLeft, nil
	case "right":
		return SideRight, nil
	default:
		return SideUnknown, fmt.Errorf("unknown handedness %q", label)
	}
}

// Pose holds the body landmarks needed for the proximity heuristic.
type Pose struct {
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
}

// ShoulderWidth returns the horizontal distance between the shoulders in normalized units.
func (p Pose) ShoulderWidth() float64 {
	w := p.LeftShoulder.X - p.RightShoulder.X
	if w < 0 {
		return -w
	}
	return w
}

// Hand is one detected hand.
type Hand struct {
	Side   Side                `json:"side"`
	Points [NumLandmarks]Point `json:"points"`
	Score  float64             `json:"score"`
}

// Palm returns the palm center, taken as the midpoint of the wrist and the middle finger MCP.
func (h Hand) Palm() Point {
	w := h.Points[Wrist]
	m := h.Points[MiddleMCP]
	return Point{X: (w.X + m.X) / 2, Y: (w.Y + m.Y) / 2}
}

// MarshalText encodes the side as "left", "right" or "unknown".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a handedness label.
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}
