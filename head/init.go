package head

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/units"
)

// unitsConfig returns the configured limits at the given resolutions.
func (h *Head) unitsConfig(panSPD, tiltSPD float64) units.Config {
	return units.WithResolution(units.Config{
		SlipRing: h.cfg.SlipRing,
		Pan:      units.AxisConfig{Min: h.cfg.PanMin, Max: h.cfg.PanMax},
		Tilt:     units.AxisConfig{Min: h.cfg.TiltMin, Max: h.cfg.TiltMax},
	}, panSPD, tiltSPD)
}

// initCommands returns the configuration sequence sent by Initialize.
func (h *Head) initCommands() []ptu.Command {
	c := h.cfg
	cmds := []ptu.Command{
		ptu.Cmd(ptu.CodeEchoOff),
		ptu.Cmd(ptu.CodeTerse),
		ptu.Cmd("PHL"), // pan hold power low
		ptu.Cmd("THR"), // tilt hold power regular
		ptu.Cmd("PML"), // pan move power low
		ptu.Cmd("TMH"), // tilt move power high
		ptu.Cmd("CEC"), // encoder correction
		ptu.CmdArg("PA", c.Acceleration),
		ptu.CmdArg("TA", c.Acceleration),
		ptu.CmdArg("PU", c.MaxSpeed),
		ptu.CmdArg("TU", c.MaxSpeed),
		ptu.CmdArg("PS", c.Speed),
		ptu.CmdArg("TS", c.Speed),
		ptu.CmdArg("RPS", c.ResetSpeed),
		ptu.CmdArg("RTS", c.ResetSpeed),
	}

	if c.Reset {
		// auto stepping only takes effect after an axis reset
		cmds = append(cmds, ptu.Cmd("WTA"), ptu.Cmd("WPA"))
		if c.SimultaneousReset {
			cmds = append(cmds, ptu.Cmd(ptu.CodeReset))
		} else {
			cmds = append(cmds, ptu.Cmd(ptu.CodeResetTilt), ptu.Cmd(ptu.CodeResetPan))
		}
		cmds = append(cmds, ptu.Cmd(ptu.CodeAwait), ptu.Cmd("RD"))
	}

	if c.SlipRing {
		return append(cmds, ptu.Cmd("PCE"))
	}
	lim := h.unitsConfig(
		units.StepsPerDegreeFromArcSeconds(units.DefaultPanArcSeconds),
		units.StepsPerDegreeFromArcSeconds(units.DefaultTiltArcSeconds),
	)
	return append(cmds,
		ptu.CmdArg("TNU", lim.Tilt.Min),
		ptu.CmdArg("TXU", lim.Tilt.Max),
		ptu.CmdArg("PNU", lim.Pan.Min),
		ptu.CmdArg("PXU", lim.Pan.Max),
		ptu.Cmd("LU"),
	)
}

func (h *Head) queryFloat(code string) (float64, error) {
	val, err := h.ch.SendQuery(ptu.Cmd(code))
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s reply %q: %w", code, val, err)
	}
	return f, nil
}

func (h *Head) queryInt(code string) (int, error) {
	val, err := h.ch.SendQuery(ptu.Cmd(code))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s reply %q: %w", code, val, err)
	}
	return n, nil
}

// Initialize configures the head, optionally resets both axes and reads
// the axis resolutions and positions. Until it succeeds no positioning
// command is accepted; it may be called again after a failure.
func (h *Head) Initialize() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.usable(); err != nil {
		return err
	}

	h.stateMx.Lock()
	h.initialized = false
	h.stateMx.Unlock()

	if h.cfg.Settle > 0 {
		time.Sleep(h.cfg.Settle)
	}

	fail := func(step string, err error) error {
		h.check(err)
		h.log.Error().Err(err).Str("step", step).Msg("initialization failed")
		return &InitializationError{Step: step, Err: err}
	}

	for _, cmd := range h.initCommands() {
		h.log.Debug().Str("cmd", cmd.String()).Msg("init")
		if err := h.ch.SendCommand(cmd); err != nil {
			return fail(cmd.String(), err)
		}
	}

	panRes, err := h.queryFloat(ptu.CodePanResolution)
	if err != nil {
		return fail(ptu.CodePanResolution, err)
	}
	tiltRes, err := h.queryFloat(ptu.CodeTiltResolution)
	if err != nil {
		return fail(ptu.CodeTiltResolution, err)
	}
	if panRes <= 0 || tiltRes <= 0 {
		return fail("resolution", fmt.Errorf("non-positive resolution %v/%v", panRes, tiltRes))
	}

	ucfg := h.unitsConfig(
		units.StepsPerDegreeFromArcSeconds(panRes),
		units.StepsPerDegreeFromArcSeconds(tiltRes),
	)
	conv, err := units.New(ucfg)
	if err != nil {
		return fail("resolution", err)
	}

	pan, err := h.queryInt(ptu.CodePanPosition)
	if err != nil {
		return fail(ptu.CodePanPosition, err)
	}
	tilt, err := h.queryInt(ptu.CodeTiltPosition)
	if err != nil {
		return fail(ptu.CodeTiltPosition, err)
	}

	h.stateMx.Lock()
	h.conv = conv
	for _, a := range []units.Axis{units.Pan, units.Tilt} {
		ac := conv.Axis(a)
		h.axes[a] = AxisState{StepsPerDegree: ac.StepsPerDegree, Min: ac.Min, Max: ac.Max}
	}
	h.axes[units.Pan].Position = pan
	h.axes[units.Tilt].Position = tilt
	h.initialized = true
	h.stateMx.Unlock()

	// reset is only needed on the first run
	h.cfg.Reset = false

	h.log.Info().
		Float64("panStepsPerDegree", ucfg.Pan.StepsPerDegree).
		Float64("tiltStepsPerDegree", ucfg.Tilt.StepsPerDegree).
		Int("pan", pan).Int("tilt", tilt).
		Msg("initialized")
	h.publish()
	return nil
}
