package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ScriptName is the landmark service the detector runs as a subprocess.
const ScriptName = "landmark_service.py"

// idleShutdown is how long the subprocess may sit unused before it is stopped.
const idleShutdown = 30 * time.Second

// Request task codes understood by the landmark service.
const (
	taskPose  byte = 'P'
	taskHands byte = 'H'
)

// ErrNoScript is returned when the landmark service script cannot be located.
var ErrNoScript = errors.New(ScriptName + " not found")

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// Each request is one task byte, a 4-byte big-endian length and a JPEG
// frame on stdin; the service answers with a single JSON line on stdout.
type MediaPipeDetector struct {
	config     Config
	scriptPath string
	logger     *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config, logger *slog.Logger) (*MediaPipeDetector, error) {
	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = findScript()
	}
	if scriptPath == "" {
		return nil, ErrNoScript
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoScript, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &MediaPipeDetector{
		config:     config,
		scriptPath: scriptPath,
		logger:     logger.With("component", "mediapipe"),
	}, nil
}

type poseResponse struct {
	Pose  *Pose  `json:"pose"`
	Error string `json:"error,omitempty"`
}

type handsResponse struct {
	Hands []jsonHand `json:"hands"`
	Error string     `json:"error,omitempty"`
}

// DetectPose returns the shoulders of the detected person, or nil when nobody is in frame.
func (d *MediaPipeDetector) DetectPose(frame *gocv.Mat) (*Pose, error) {
	data, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	var resp poseResponse
	if err := d.request(taskPose, data, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("landmark service: %s", resp.Error)
	}
	return resp.Pose, nil
}

// DetectHands returns the detected hands. Hands with an unreadable handedness label are skipped.
func (d *MediaPipeDetector) DetectHands(frame *gocv.Mat) ([]Hand, error) {
	data, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	var resp handsResponse
	if err := d.request(taskHands, data, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("landmark service: %s", resp.Error)
	}

	hands := make([]Hand, 0, len(resp.Hands))
	for _, h := range resp.Hands {
		hand, err := h.toHand()
		if err != nil {
			d.logger.Debug("skipping hand", "error", err)
			continue
		}
		hands = append(hands, hand)
	}
	return hands, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func encodeFrame(frame *gocv.Mat) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that Close frees.
	src := buf.GetBytes()
	data := make([]byte, len(src))
	copy(data, src)
	return data, nil
}

// request runs one task against the subprocess, starting it if needed.
func (d *MediaPipeDetector) request(task byte, data []byte, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return err
	}

	if err := d.exchange(task, data, out); err != nil {
		// The stream is out of sync after a failed exchange; restart on next use.
		if serr := d.shutdown(); serr != nil {
			d.logger.Debug("landmark service exited", "error", serr)
		}
		return err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()
	return nil
}

// exchange writes one framed request and decodes one JSON line.
func (d *MediaPipeDetector) exchange(task byte, data []byte, out any) error {
	header := make([]byte, 5)
	header[0] = task
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))

	if _, err := d.stdin.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	python := d.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	d.cmd = exec.Command(python, d.scriptPath,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
		"--model-complexity", strconv.Itoa(d.config.ModelComplexity),
	)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start landmark service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	d.logger.Info("landmark service started", "python", python, "script", d.scriptPath, "pid", d.cmd.Process.Pid)
	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	var err error
	if d.cmd != nil {
		err = d.cmd.Wait()
	}
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	d.logger.Info("landmark service stopped")
	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ScriptName),
		filepath.Join("..", "scripts", ScriptName),
		filepath.Join(execDir, "scripts", ScriptName),
		filepath.Join(os.Getenv("HOME"), ".viewersense", "scripts", ScriptName),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".viewersense/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []Point `json:"points"`
	Handedness string  `json:"handedness"`
	Score      float64 `json:"score"`
}

func (h jsonHand) toHand() (Hand, error) {
	side, err := ParseSide(h.Handedness)
	if err != nil {
		return Hand{}, err
	}
	if len(h.Points) < NumLandmarks {
		return Hand{}, fmt.Errorf("hand has %d landmarks, want %d", len(h.Points), NumLandmarks)
	}

	hand := Hand{Side: side, Score: h.Score}
	copy(hand.Points[:], h.Points)
	return hand, nil
}
