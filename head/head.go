// Package head drives a PTU-D48E pan/tilt head: initialization, absolute
// moves in steps or degrees, and position and diagnostics queries.
package head

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastercactapus/ptu/link"
	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/units"
)

// A Channel runs single command/reply transactions against the device.
// *ptu.Conn implements it.
type Channel interface {
	SendCommand(cmd ptu.Command) error
	SendQuery(cmd ptu.Command) (string, error)
	Close() error
}

var _ Channel = (*ptu.Conn)(nil)

// Config controls initialization and move behavior.
type Config struct {
	// Reset runs the axis calibration during the first successful
	// Initialize.
	Reset bool `json:"reset"`

	// SimultaneousReset resets both axes with one command instead of
	// tilt then pan.
	SimultaneousReset bool `json:"simultaneousReset"`

	// SlipRing enables continuous pan rotation instead of pan user limits.
	SlipRing bool `json:"slipRing"`

	// Travel limits in steps. Zero pairs keep the defaults.
	PanMin  int `json:"panMin,omitempty"`
	PanMax  int `json:"panMax,omitempty"`
	TiltMin int `json:"tiltMin,omitempty"`
	TiltMax int `json:"tiltMax,omitempty"`

	Acceleration int `json:"acceleration"`
	MaxSpeed     int `json:"maxSpeed"`
	Speed        int `json:"speed"`
	ResetSpeed   int `json:"resetSpeed"`

	// Settle is the pause before the first command, while the device
	// prints its welcome banner.
	Settle time.Duration `json:"settle"`

	// VerifyMoves queries the position after each move and fails with a
	// *MoveError if it differs from the target.
	VerifyMoves bool `json:"verifyMoves"`

	// FahrenheitTemps converts diagnostics temperatures to Celsius.
	FahrenheitTemps bool `json:"fahrenheitTemps"`

	Logger *zerolog.Logger `json:"-"`
}

// DefaultConfig returns the settings used on deployed heads.
func DefaultConfig() Config {
	return Config{
		Reset:             true,
		SimultaneousReset: true,
		SlipRing:          true,
		Acceleration:      2000,
		MaxSpeed:          4000,
		Speed:             4000,
		ResetSpeed:        4000,
		Settle:            600 * time.Millisecond,
	}
}

// AxisState is the last confirmed state of one axis.
type AxisState struct {
	Position       int     `json:"position"`
	StepsPerDegree float64 `json:"stepsPerDegree"`
	Min            int     `json:"min"`
	Max            int     `json:"max"`
}

// Head controls one pan/tilt head over a Channel.
type Head struct {
	ch  Channel
	cfg Config
	log zerolog.Logger

	// mx serializes operations so multi-command sequences never interleave.
	mx sync.Mutex

	stateMx     sync.RWMutex
	conv        *units.Converter
	axes        [2]AxisState
	initialized bool
	closed      bool

	updates chan [2]int
}

// New returns an uninitialized Head bound to ch.
func New(ch Channel, cfg Config) *Head {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "head").Logger()
	}
	return &Head{
		ch:      ch,
		cfg:     cfg,
		log:     log,
		updates: make(chan [2]int, 16),
	}
}

// Updates delivers confirmed positions in steps. Updates are dropped when
// nobody keeps up with the channel. It is closed once the head is closed or
// lost its link.
func (h *Head) Updates() <-chan [2]int { return h.updates }

func (h *Head) publish() {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	if h.closed {
		return
	}
	pos := [2]int{h.axes[units.Pan].Position, h.axes[units.Tilt].Position}
	select {
	case h.updates <- pos:
	default:
	}
}

// shutdown marks the head unusable and closes Updates once.
func (h *Head) shutdown() {
	h.stateMx.Lock()
	defer h.stateMx.Unlock()
	h.initialized = false
	if h.closed {
		return
	}
	h.closed = true
	close(h.updates)
}

// Initialized reports whether Initialize has succeeded.
func (h *Head) Initialized() bool {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	return h.initialized
}

// Axis returns the last confirmed state of an axis.
func (h *Head) Axis(a units.Axis) AxisState {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	return h.axes[a]
}

func (h *Head) setPosition(a units.Axis, steps int) {
	h.stateMx.Lock()
	h.axes[a].Position = steps
	h.stateMx.Unlock()
}

// usable returns ErrClosed after the link was lost.
func (h *Head) usable() error {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// ready additionally requires a completed initialization.
func (h *Head) ready() error {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if !h.initialized {
		return ErrNotInitialized
	}
	return nil
}

// linkLost reports whether a channel error means the link is gone. Only the
// error itself counts: a *ptu.CommandError whose first attempt lost the link
// was recovered by a reconnect and leaves the channel usable.
func linkLost(err error) bool {
	switch err.(type) {
	case *link.ConnectionError:
		return true
	}
	return err == ptu.ErrClosed
}

// check inspects a channel error. A lost link makes the head unusable.
func (h *Head) check(err error) error {
	if err == nil {
		return nil
	}
	if linkLost(err) {
		h.log.Error().Err(err).Msg("link lost, closing")
		h.shutdown()
		h.ch.Close()
	}
	return err
}

// positionAxis returns the axis whose absolute position code is code.
func positionAxis(code string) (units.Axis, bool) {
	switch code {
	case ptu.CodePanPosition:
		return units.Pan, true
	case ptu.CodeTiltPosition:
		return units.Tilt, true
	}
	return 0, false
}

// SendCommand sends a raw command once the head is initialized. Absolute
// position commands are checked against the travel limits like MovePosition
// and update the axis state once acknowledged.
func (h *Head) SendCommand(cmd ptu.Command) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return err
	}
	a, isMove := positionAxis(cmd.Code)
	isMove = isMove && cmd.HasArg
	if isMove {
		if err := h.converter().CheckSteps(a, cmd.Arg); err != nil {
			return err
		}
	}
	if err := h.check(h.ch.SendCommand(cmd)); err != nil {
		return err
	}
	if isMove {
		h.setPosition(a, cmd.Arg)
		h.publish()
	}
	return nil
}

// SendQuery sends a raw query once the head is initialized and returns the
// reply value. Position queries refresh the axis state.
func (h *Head) SendQuery(cmd ptu.Command) (string, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return "", err
	}
	val, err := h.ch.SendQuery(cmd)
	if err != nil {
		return "", h.check(err)
	}
	if a, ok := positionAxis(cmd.Code); ok && !cmd.HasArg {
		if steps, err := strconv.Atoi(val); err == nil {
			h.setPosition(a, steps)
			h.publish()
		}
	}
	return val, nil
}

// Close closes the channel and the Updates channel. The head cannot be used
// afterwards. Closing again only closes the channel again.
func (h *Head) Close() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.shutdown()
	return h.ch.Close()
}
