package head

import (
	"math"

	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/units"
)

func (h *Head) converter() *units.Converter {
	h.stateMx.RLock()
	defer h.stateMx.RUnlock()
	return h.conv
}

// MovePosition moves both axes to absolute step positions and waits until
// the head reports both moves complete. Targets outside the travel limits
// are rejected with a *units.ConversionError before anything is sent.
func (h *Head) MovePosition(pan, tilt int) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return err
	}
	conv := h.converter()
	if err := conv.CheckSteps(units.Pan, pan); err != nil {
		return err
	}
	if err := conv.CheckSteps(units.Tilt, tilt); err != nil {
		return err
	}
	return h.move(pan, tilt)
}

// MovePositionDegrees converts heading and elevation to steps and moves
// there. With a slip ring the heading is wrapped into (-180, 180].
func (h *Head) MovePositionDegrees(pan, tilt float64) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return err
	}
	conv := h.converter()
	panSteps, err := conv.ToSteps(units.Pan, pan)
	if err != nil {
		return err
	}
	tiltSteps, err := conv.ToSteps(units.Tilt, tilt)
	if err != nil {
		return err
	}
	return h.move(panSteps, tiltSteps)
}

// Park moves pan to zero and tilt to its lower limit, pointing the head
// down.
func (h *Head) Park() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return err
	}
	tiltMin, _ := h.converter().Limits(units.Tilt)
	return h.move(0, tiltMin)
}

func (h *Head) move(pan, tilt int) error {
	log := h.log.With().Int("pan", pan).Int("tilt", tilt).Logger()
	log.Debug().Msg("moving")

	if err := h.check(h.ch.SendCommand(ptu.CmdArg(ptu.CodePanPosition, pan))); err != nil {
		return err
	}
	h.setPosition(units.Pan, pan)
	if err := h.check(h.ch.SendCommand(ptu.CmdArg(ptu.CodeTiltPosition, tilt))); err != nil {
		h.publish()
		return err
	}
	h.setPosition(units.Tilt, tilt)
	h.publish()

	if err := h.check(h.ch.SendCommand(ptu.Cmd(ptu.CodeAwait))); err != nil {
		return err
	}

	if !h.cfg.VerifyMoves {
		return nil
	}
	actual, err := h.position()
	if err != nil {
		return err
	}
	if actual != [2]int{pan, tilt} {
		err := &MoveError{Target: [2]int{pan, tilt}, Actual: actual}
		log.Error().Err(err).Msg("position mismatch")
		return err
	}
	return nil
}

// position queries both axes and records the result.
func (h *Head) position() ([2]int, error) {
	pan, err := h.queryInt(ptu.CodePanPosition)
	if err != nil {
		return [2]int{}, h.check(err)
	}
	h.setPosition(units.Pan, pan)
	tilt, err := h.queryInt(ptu.CodeTiltPosition)
	if err != nil {
		return [2]int{}, h.check(err)
	}
	h.setPosition(units.Tilt, tilt)
	h.publish()
	return [2]int{pan, tilt}, nil
}

// CurrentPosition queries both axes and returns [pan, tilt] in steps.
func (h *Head) CurrentPosition() ([2]int, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return [2]int{}, err
	}
	return h.position()
}

// CurrentPositionDegrees queries both axes and returns [heading, elevation]
// rounded to a tenth of a degree.
func (h *Head) CurrentPositionDegrees() ([2]float64, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.ready(); err != nil {
		return [2]float64{}, err
	}
	pos, err := h.position()
	if err != nil {
		return [2]float64{}, err
	}
	conv := h.converter()
	return [2]float64{
		roundTenth(conv.ToDegrees(units.Pan, pos[0])),
		roundTenth(conv.ToDegrees(units.Tilt, pos[1])),
	}, nil
}

func roundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}
