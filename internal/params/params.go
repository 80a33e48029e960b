// Package params holds the threshold values read by the detectors each cycle.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default parameter values.
const (
	DefaultShoulderWidthThreshold   = 0.2
	DefaultPresenceTimeout          = 2 * time.Second
	DefaultMinSwipeDistanceFraction = 0.1
	DefaultMinSpeedPxPerS           = 500.0
	DefaultSwipeCooldown            = time.Second
	DefaultHistoryWindow            = 200 * time.Millisecond
	DefaultCadenceHz                = 30.0
	// MaxCadenceHz caps the detection rate regardless of configuration.
	MaxCadenceHz = 60.0
)

// Params is an immutable snapshot of the detection thresholds.
type Params struct {
	// ShoulderWidthThreshold is the normalized shoulder width above which a
	// viewer counts as close enough.
	ShoulderWidthThreshold float64 `yaml:"shoulder_width_threshold"`

	// PresenceTimeout is how long presence is held after the last qualifying frame.
	PresenceTimeout time.Duration `yaml:"presence_timeout"`

	// MinSwipeDistanceFraction is the minimum palm displacement as a fraction of frame width.
	MinSwipeDistanceFraction float64 `yaml:"min_swipe_distance_fraction"`

	// MinSpeedPxPerS is the minimum palm speed in pixels per second.
	MinSpeedPxPerS float64 `yaml:"min_speed_px_per_s"`

	// SwipeCooldown is the minimum spacing between two recognized swipes.
	SwipeCooldown time.Duration `yaml:"swipe_cooldown"`

	// HistoryWindow bounds the age of hand samples used for swipe detection.
	HistoryWindow time.Duration `yaml:"history_window"`

	// CadenceHz is the detection loop rate.
	CadenceHz float64 `yaml:"detection_cadence_hz"`

	// PresenceOnly disables swipe detection and drops swipe_direction from events.
	PresenceOnly bool `yaml:"presence_only"`
}

// Default returns the parameter set used when nothing is configured.
func Default() Params {
	return Params{
		ShoulderWidthThreshold:   DefaultShoulderWidthThreshold,
		PresenceTimeout:          DefaultPresenceTimeout,
		MinSwipeDistanceFraction: DefaultMinSwipeDistanceFraction,
		MinSpeedPxPerS:           DefaultMinSpeedPxPerS,
		SwipeCooldown:            DefaultSwipeCooldown,
		HistoryWindow:            DefaultHistoryWindow,
		CadenceHz:                DefaultCadenceHz,
	}
}

// Validate reports every out-of-range value.
func (p Params) Validate() error {
	var errs []error

	if p.ShoulderWidthThreshold <= 0 || p.ShoulderWidthThreshold > 1 {
		errs = append(errs, fmt.Errorf("shoulder_width_threshold must be in (0, 1], got %v", p.ShoulderWidthThreshold))
	}
	if p.PresenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("presence_timeout must be positive, got %v", p.PresenceTimeout))
	}
	if p.MinSwipeDistanceFraction <= 0 || p.MinSwipeDistanceFraction > 1 {
		errs = append(errs, fmt.Errorf("min_swipe_distance_fraction must be in (0, 1], got %v", p.MinSwipeDistanceFraction))
	}
	if p.MinSpeedPxPerS <= 0 {
		errs = append(errs, fmt.Errorf("min_speed_px_per_s must be positive, got %v", p.MinSpeedPxPerS))
	}
	if p.SwipeCooldown < 0 {
		errs = append(errs, fmt.Errorf("swipe_cooldown must not be negative, got %v", p.SwipeCooldown))
	}
	if p.HistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("history_window must be positive, got %v", p.HistoryWindow))
	}
	if p.CadenceHz <= 0 || p.CadenceHz > MaxCadenceHz {
		errs = append(errs, fmt.Errorf("detection_cadence_hz must be in (0, %v], got %v", MaxCadenceHz, p.CadenceHz))
	}

	return errors.Join(errs...)
}

// Interval returns the detection loop period derived from CadenceHz.
func (p Params) Interval() time.Duration {
	hz := p.CadenceHz
	if hz <= 0 {
		hz = DefaultCadenceHz
	}
	if hz > MaxCadenceHz {
		hz = MaxCadenceHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// wireParams is the JSON form; durations are expressed in seconds.
type wireParams struct {
	ShoulderWidthThreshold   float64 `json:"shoulder_width_threshold"`
	PresenceTimeoutS         float64 `json:"presence_timeout"`
	MinSwipeDistanceFraction float64 `json:"min_swipe_distance_fraction"`
	MinSpeedPxPerS           float64 `json:"min_speed_px_per_s"`
	SwipeCooldownS           float64 `json:"swipe_cooldown_s"`
	HistoryWindowS           float64 `json:"history_window_s"`
	CadenceHz                float64 `json:"detection_cadence_hz"`
	PresenceOnly             bool    `json:"presence_only"`
}

func (p Params) toWire() wireParams {
	return wireParams{
		ShoulderWidthThreshold:   p.ShoulderWidthThreshold,
		PresenceTimeoutS:         p.PresenceTimeout.Seconds(),
		MinSwipeDistanceFraction: p.MinSwipeDistanceFraction,
		MinSpeedPxPerS:           p.MinSpeedPxPerS,
		SwipeCooldownS:           p.SwipeCooldown.Seconds(),
		HistoryWindowS:           p.HistoryWindow.Seconds(),
		CadenceHz:                p.CadenceHz,
		PresenceOnly:             p.PresenceOnly,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func (w wireParams) toParams() Params {
	return Params{
		ShoulderWidthThreshold:   w.ShoulderWidthThreshold,
		PresenceTimeout:          seconds(w.PresenceTimeoutS),
		MinSwipeDistanceFraction: w.MinSwipeDistanceFraction,
		MinSpeedPxPerS:           w.MinSpeedPxPerS,
		SwipeCooldown:            seconds(w.SwipeCooldownS),
		HistoryWindow:            seconds(w.HistoryWindowS),
		CadenceHz:                w.CadenceHz,
		PresenceOnly:             w.PresenceOnly,
	}
}

// MarshalJSON encodes the parameters with durations in seconds.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.toWire())
}

// UnmarshalJSON decodes onto the receiver's current values, so keys absent
// from data keep whatever p already held.
func (p *Params) UnmarshalJSON(data []byte) error {
	w := p.toWire()
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = w.toParams()
	return nil
}

// Merge returns a copy of p with the keys present in the JSON object patch applied.
func (p Params) Merge(patch []byte) (Params, error) {
	out := p
	if err := json.Unmarshal(patch, &out); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return out, nil
}
