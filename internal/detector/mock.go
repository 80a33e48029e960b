package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	pose  *Pose
	hands []Hand
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPose sets the pose returned by DetectPose. A nil pose means nobody in frame.
func (m *MockDetector) SetPose(pose *Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose = pose
}

// SetHands sets the hands that will be returned by DetectHands.
func (m *MockDetector) SetHands(hands []Hand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by both detect methods.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times DetectPose has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// DetectPose returns the pre-configured pose or error.
func (m *MockDetector) DetectPose(frame *gocv.Mat) (*Pose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.pose == nil {
		return nil, nil
	}
	p := *m.pose
	return &p, nil
}

// DetectHands returns the pre-configured hands or error.
func (m *MockDetector) DetectHands(frame *gocv.Mat) ([]Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]Hand(nil), m.hands...), nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// PoseWithShoulderWidth returns a centered pose whose shoulders are width apart.
func PoseWithShoulderWidth(width float64) *Pose {
	return &Pose{
		LeftShoulder:  Point{X: 0.5 + width/2, Y: 0.4},
		RightShoulder: Point{X: 0.5 - width/2, Y: 0.4},
	}
}

// OpenPalmAt returns an open palm hand on the given side whose palm center is at (x, y).
func OpenPalmAt(side Side, x, y float64) Hand {
	hand := Hand{Side: side, Score: 0.95}

	// Offsets of an upright open palm relative to the palm center.
	offsets := [NumLandmarks]Point{
		Wrist:     {0, 0.07},
		ThumbCMC:  {0.03, 0.05},
		ThumbMCP:  {0.07, 0.02},
		ThumbIP:   {0.10, -0.01},
		ThumbTip:  {0.12, -0.04},
		IndexMCP:  {0.03, -0.05},
		IndexPIP:  {0.04, -0.10},
		IndexDIP:  {0.045, -0.14},
		IndexTip:  {0.05, -0.17},
		MiddleMCP: {0, -0.07},
		MiddlePIP: {0, -0.12},
		MiddleDIP: {0, -0.16},
		MiddleTip: {0, -0.20},
		RingMCP:   {-0.03, -0.05},
		RingPIP:   {-0.04, -0.10},
		RingDIP:   {-0.045, -0.13},
		RingTip:   {-0.05, -0.16},
		PinkyMCP:  {-0.06, -0.03},
		PinkyPIP:  {-0.07, -0.07},
		PinkyDIP:  {-0.075, -0.10},
		PinkyTip:  {-0.08, -0.12},
	}
	for i, o := range offsets {
		hand.Points[i] = Point{X: x + o.X, Y: y + o.Y}
	}

	if side == SideLeft {
		// Mirror the fingers around the palm center.
		for i := range hand.Points {
			hand.Points[i].X = 2*x - hand.Points[i].X
		}
	}

	return hand
}
