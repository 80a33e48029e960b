// Command slide-keys is a viewersense hook that turns swipes into arrow key
// presses, so a swipe pages a slideshow or photo viewer. It uses AppleScript
// on macOS and xdotool elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Request is the input from the hook executor.
type Request struct {
	Trigger string          `json:"trigger"`
	Event   json.RawMessage `json:"event"`
}

// Response is the output read by the hook executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// arrow is a direction key with its macOS key code and X11 keysym.
type arrow struct {
	keyCode int
	keysym  string
}

var (
	arrowLeft  = arrow{keyCode: 123, keysym: "Left"}
	arrowRight = arrow{keyCode: 124, keysym: "Right"}
)

// keyFor maps a swipe to the key that advances in the same direction:
// swiping left moves to the next item.
func keyFor(trigger string) (arrow, error) {
	switch trigger {
	case "swipe_left":
		return arrowRight, nil
	case "swipe_right":
		return arrowLeft, nil
	default:
		return arrow{}, fmt.Errorf("unsupported trigger: %s", trigger)
	}
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}

	key, err := keyFor(req.Trigger)
	if err != nil {
		writeResponse(err)
		return
	}
	writeResponse(press(key))
}

// press sends a single key press to the focused window.
func press(key arrow) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`tell application "System Events" to key code %d`, key.keyCode)
		cmd = exec.Command("osascript", "-e", script)
	} else {
		cmd = exec.Command("xdotool", "key", key.keysym)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
