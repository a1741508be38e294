// Package units converts between motor steps and degrees for the two axes of
// a pan/tilt head.
package units

import (
	"fmt"
	"math"
)

// Axis identifies one of the two rotational axes.
type Axis int

const (
	Pan Axis = iota
	Tilt
)

func (a Axis) String() string {
	switch a {
	case Pan:
		return "pan"
	case Tilt:
		return "tilt"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// arcSecondsPerDegree converts the device's resolution queries.
const arcSecondsPerDegree = 3600

// StepsPerDegreeFromArcSeconds converts a resolution reported in arc-seconds
// per step into steps per degree.
func StepsPerDegreeFromArcSeconds(arcsec float64) float64 {
	return arcSecondsPerDegree / arcsec
}

// AxisConfig is the resolution and travel range of one axis.
type AxisConfig struct {
	StepsPerDegree float64 `json:"stepsPerDegree"`
	Min            int     `json:"min"`
	Max            int     `json:"max"`
}

// Contains reports whether steps is within [Min, Max].
func (a AxisConfig) Contains(steps int) bool {
	return steps >= a.Min && steps <= a.Max
}

// Config describes both axes. With SlipRing set the pan axis rotates
// continuously and pan targets in degrees are wrapped into (-180, 180].
type Config struct {
	Pan      AxisConfig `json:"pan"`
	Tilt     AxisConfig `json:"tilt"`
	SlipRing bool       `json:"slipRing"`
}

// Nominal PTU-D48E values, in arc-seconds per step for eighth stepping.
const (
	DefaultPanArcSeconds  = 23.142857
	DefaultTiltArcSeconds = 11.571429
)

// Default user limits in steps: ±174° pan without a slip ring, -90°/+30° tilt.
// At the nominal tilt resolution -90° rounds to -28000, one step below
// DefaultTiltMin, so the lowest reachable elevation is about -89.997°.
// Targets given in steps reach DefaultTiltMin exactly.
const (
	DefaultPanLimit = 27067
	DefaultTiltMin  = -27999
	DefaultTiltMax  = 9333
)

// DefaultConfig returns the nominal PTU-D48E axis setup.
func DefaultConfig(slipRing bool) Config {
	return WithResolution(Config{SlipRing: slipRing},
		StepsPerDegreeFromArcSeconds(DefaultPanArcSeconds),
		StepsPerDegreeFromArcSeconds(DefaultTiltArcSeconds),
	)
}

// WithResolution returns cfg with the given resolutions. Limits left at zero
// are filled with the defaults for that resolution.
func WithResolution(cfg Config, panSPD, tiltSPD float64) Config {
	cfg.Pan.StepsPerDegree = panSPD
	cfg.Tilt.StepsPerDegree = tiltSPD
	if cfg.Pan.Min == 0 && cfg.Pan.Max == 0 {
		if cfg.SlipRing {
			half := int(math.Round(180 * panSPD))
			cfg.Pan.Min, cfg.Pan.Max = -half, half
		} else {
			cfg.Pan.Min, cfg.Pan.Max = -DefaultPanLimit, DefaultPanLimit
		}
	}
	if cfg.Tilt.Min == 0 && cfg.Tilt.Max == 0 {
		cfg.Tilt.Min, cfg.Tilt.Max = DefaultTiltMin, DefaultTiltMax
	}
	return cfg
}

// ConversionError means a target lies outside the travel range of its axis.
// Degrees is NaN when the target was given in steps.
type ConversionError struct {
	Axis     Axis
	Degrees  float64
	Steps    int
	Min, Max int
}

func (e *ConversionError) Error() string {
	if math.IsNaN(e.Degrees) {
		return fmt.Sprintf("units: %s target %d steps outside [%d, %d]", e.Axis, e.Steps, e.Min, e.Max)
	}
	return fmt.Sprintf("units: %s target %.3f° (%d steps) outside [%d, %d]", e.Axis, e.Degrees, e.Steps, e.Min, e.Max)
}

// Converter converts positions for a fixed axis configuration.
type Converter struct {
	cfg Config
}

// New returns a Converter. Resolutions must be positive and Min <= Max.
func New(cfg Config) (*Converter, error) {
	for _, a := range []Axis{Pan, Tilt} {
		ac := cfg.axis(a)
		if !(ac.StepsPerDegree > 0) || math.IsInf(ac.StepsPerDegree, 0) {
			return nil, fmt.Errorf("units: %s resolution must be positive, got %v", a, ac.StepsPerDegree)
		}
		if ac.Min > ac.Max {
			return nil, fmt.Errorf("units: %s limits inverted: [%d, %d]", a, ac.Min, ac.Max)
		}
	}
	return &Converter{cfg: cfg}, nil
}

func (cfg Config) axis(a Axis) AxisConfig {
	if a == Tilt {
		return cfg.Tilt
	}
	return cfg.Pan
}

// Config returns the configuration the converter was built with.
func (c *Converter) Config() Config { return c.cfg }

// Axis returns the configuration of one axis.
func (c *Converter) Axis(a Axis) AxisConfig { return c.cfg.axis(a) }

// SlipRing reports whether the pan axis rotates continuously.
func (c *Converter) SlipRing() bool { return c.cfg.SlipRing }

// normalizeHeading wraps deg into (-180, 180].
func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg > 180 {
		deg -= 360
	}
	return deg
}

// ToSteps converts degrees to the nearest step, rounding halves away from
// zero, and checks the result against the axis limits.
func (c *Converter) ToSteps(a Axis, deg float64) (int, error) {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0, fmt.Errorf("units: %s target %v is not a number", a, deg)
	}
	if a == Pan && c.cfg.SlipRing {
		deg = normalizeHeading(deg)
	}
	ac := c.cfg.axis(a)
	steps := math.Round(deg * ac.StepsPerDegree)
	if steps < float64(ac.Min) || steps > float64(ac.Max) {
		return 0, &ConversionError{Axis: a, Degrees: deg, Steps: clampInt(steps), Min: ac.Min, Max: ac.Max}
	}
	return int(steps), nil
}

func clampInt(f float64) int {
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

// ToDegrees converts a step position to degrees.
func (c *Converter) ToDegrees(a Axis, steps int) float64 {
	return float64(steps) / c.cfg.axis(a).StepsPerDegree
}

// CheckSteps validates a target given in steps.
func (c *Converter) CheckSteps(a Axis, steps int) error {
	ac := c.cfg.axis(a)
	if !ac.Contains(steps) {
		return &ConversionError{Axis: a, Degrees: math.NaN(), Steps: steps, Min: ac.Min, Max: ac.Max}
	}
	return nil
}

// Limits returns the travel range of an axis in steps.
func (c *Converter) Limits(a Axis) (lo, hi int) {
	ac := c.cfg.axis(a)
	return ac.Min, ac.Max
}
