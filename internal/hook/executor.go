package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single hook run.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a hook does not finish in time.
var ErrTimeout = errors.New("hook timed out")

// Executor runs hooks with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor. A non-positive timeout uses DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Execute runs h in its directory with req on stdin and parses its stdout.
func (e *Executor) Execute(ctx context.Context, h *Hook, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.Executable)
	cmd.Dir = h.Path
	cmd.Stdin = bytes.NewReader(reqJSON)
	// Children of the hook may hold stdout open after it is killed.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("hook execution failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("hook execution failed: %w", err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return &Response{Success: true}, nil
	}

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse hook response: %w, stdout: %s", err, out)
	}
	return &resp, nil
}
