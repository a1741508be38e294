package head

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/ptu/link"
	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/sim"
	"github.com/mastercactapus/ptu/units"
)

func newHead(t *testing.T, slipRing bool, mod func(*Config)) (*Head, *sim.Device, *sim.Link) {
	dev := sim.NewDevice(slipRing)
	l := sim.NewLink(dev)
	require.NoError(t, l.Open())

	cfg := DefaultConfig()
	cfg.Settle = 0
	cfg.SlipRing = slipRing
	if mod != nil {
		mod(&cfg)
	}
	return New(ptu.NewConn(l, ptu.Config{}), cfg), dev, l
}

func initHead(t *testing.T, slipRing bool, mod func(*Config)) (*Head, *sim.Device, *sim.Link) {
	h, dev, l := newHead(t, slipRing, mod)
	require.NoError(t, h.Initialize())
	return h, dev, l
}

func TestHead_Initialize(t *testing.T) {
	h, dev, _ := initHead(t, false, nil)

	assert.True(t, h.Initialized())
	assert.Equal(t, []string{
		"ED", "FT", "PHL", "THR", "PML", "TMH", "CEC",
		"PA2000", "TA2000", "PU4000", "TU4000", "PS4000", "TS4000", "RPS4000", "RTS4000",
		"WTA", "WPA", "R", "A", "RD",
		"TNU-27999", "TXU9333", "PNU-27067", "PXU27067", "LU",
		"PR", "TR", "PP", "TP",
	}, dev.Received())

	pan := h.Axis(units.Pan)
	assert.InDelta(t, 155.556, pan.StepsPerDegree, .001)
	assert.Equal(t, -27067, pan.Min)
	assert.Equal(t, 27067, pan.Max)
	tilt := h.Axis(units.Tilt)
	assert.InDelta(t, 311.111, tilt.StepsPerDegree, .001)
	assert.Equal(t, -27999, tilt.Min)
	assert.Equal(t, 9333, tilt.Max)
}

func TestHead_Initialize_SlipRing(t *testing.T) {
	h, dev, _ := initHead(t, true, func(cfg *Config) { cfg.SimultaneousReset = false })

	recv := dev.Received()
	assert.Contains(t, recv, "RT")
	assert.Contains(t, recv, "RP")
	assert.NotContains(t, recv, "R")
	assert.Contains(t, recv, "PCE")
	assert.NotContains(t, recv, "LU")
	assert.True(t, dev.Continuous())
	assert.Equal(t, 28000, h.Axis(units.Pan).Max)
}

func TestHead_Initialize_Again(t *testing.T) {
	h, dev, _ := initHead(t, false, nil)
	n := len(dev.Received())

	require.NoError(t, h.Initialize())
	again := dev.Received()[n:]
	assert.NotContains(t, again, "R")
	assert.NotContains(t, again, "WTA")
}

func TestHead_Initialize_SeedsPosition(t *testing.T) {
	h, dev, _ := newHead(t, false, func(cfg *Config) { cfg.Reset = false })
	dev.SetPosition(1200, -300)

	require.NoError(t, h.Initialize())
	assert.Equal(t, 1200, h.Axis(units.Pan).Position)
	assert.Equal(t, -300, h.Axis(units.Tilt).Position)
}

func TestHead_Initialize_ResetTimeout(t *testing.T) {
	h, dev, _ := newHead(t, false, nil)
	dev.Drop(ptu.CodeAwait, 2)

	err := h.Initialize()
	var ie *InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "A", ie.Step)
	var ce *ptu.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Attempts)
	assert.True(t, link.IsTimeout(err))
	assert.False(t, h.Initialized())

	n := len(dev.Received())
	assert.Equal(t, ErrNotInitialized, h.MovePosition(0, 0))
	assert.Equal(t, ErrNotInitialized, h.MovePositionDegrees(0, 0))
	assert.Equal(t, ErrNotInitialized, h.Park())
	assert.Len(t, dev.Received(), n)

	// the caller may try again
	require.NoError(t, h.Initialize())
	assert.NoError(t, h.MovePosition(0, 0))
}

func TestHead_Initialize_BadResolution(t *testing.T) {
	h, dev, _ := newHead(t, false, nil)
	dev.SetResolution(0, 11.571429)

	err := h.Initialize()
	var ie *InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "resolution", ie.Step)
	assert.False(t, h.Initialized())
}

func TestHead_MovePositionDegrees(t *testing.T) {
	h, dev, _ := initHead(t, false, nil)
	n := len(dev.Received())

	require.NoError(t, h.MovePositionDegrees(-90, 30))
	assert.Equal(t, []string{"PP-14000", "TP9333", "A"}, dev.Received()[n:])

	pos, err := h.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, [2]int{-14000, 9333}, pos)

	deg, err := h.CurrentPositionDegrees()
	require.NoError(t, err)
	assert.Equal(t, [2]float64{-90.0, 30.0}, deg)

	assert.Equal(t, -14000, h.Axis(units.Pan).Position)
	assert.Equal(t, 9333, h.Axis(units.Tilt).Position)
}

func TestHead_MovePositionDegrees_SlipRing(t *testing.T) {
	h, dev, _ := initHead(t, true, nil)

	require.NoError(t, h.MovePositionDegrees(270, 0))
	pan, _ := dev.Position()
	assert.Equal(t, -14000, pan)
}

func TestHead_MovePosition_OutOfLimits(t *testing.T) {
	h, dev, _ := initHead(t, false, nil)
	n := len(dev.Received())

	err := h.MovePosition(0, 9334)
	var ce *units.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, units.Tilt, ce.Axis)

	err = h.MovePosition(-30000, 0)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, units.Pan, ce.Axis)

	err = h.MovePositionDegrees(0, 45)
	require.ErrorAs(t, err, &ce)

	assert.Len(t, dev.Received(), n)
}

func TestHead_MovePosition_Verify(t *testing.T) {
	h, dev, _ := initHead(t, false, func(cfg *Config) { cfg.VerifyMoves = true })
	require.NoError(t, h.MovePosition(500, -500))

	dev.SetSlip(3, 0)
	err := h.MovePosition(1000, 0)
	var me *MoveError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, [2]int{1000, 0}, me.Target)
	assert.Equal(t, [2]int{1003, 0}, me.Actual)
	assert.Equal(t, 1003, h.Axis(units.Pan).Position)
}

func TestHead_Park(t *testing.T) {
	h, dev, _ := initHead(t, false, nil)

	require.NoError(t, h.Park())
	pan, tilt := dev.Position()
	assert.Equal(t, 0, pan)
	assert.Equal(t, -27999, tilt)
}

func TestHead_Updates(t *testing.T) {
	h, _, _ := initHead(t, false, nil)
	<-h.Updates()

	require.NoError(t, h.MovePosition(100, 200))
	assert.Equal(t, [2]int{100, 200}, <-h.Updates())
}

func TestHead_Parameters(t *testing.T) {
	h, dev, _ := newHead(t, false, nil)

	p, err := h.Parameters()
	require.NoError(t, err)
	assert.Equal(t, ParameterSnapshot{Voltage: "13.2", TempHead: 25.6, TempPan: 23.9, TempTilt: 26.1}, p)
	assert.Equal(t, map[string]interface{}{
		"voltage":   "13.2",
		"temp_head": 25.6,
		"temp_pan":  23.9,
		"temp_tilt": 26.1,
	}, p.Map())

	dev.SetParameters(" 12.9 , 25.6,23.9 ,26.1")
	p, err = h.Parameters()
	require.NoError(t, err)
	assert.Equal(t, "12.9", p.Voltage)
	assert.Equal(t, 23.9, p.TempPan)

	dev.SetParameters("13.2,25.6")
	_, err = h.Parameters()
	assert.Error(t, err)

	dev.SetParameters("13.2,hot,23.9,26.1")
	_, err = h.Parameters()
	assert.Error(t, err)
}

func TestHead_Parameters_Fahrenheit(t *testing.T) {
	h, dev, _ := newHead(t, false, func(cfg *Config) { cfg.FahrenheitTemps = true })
	dev.SetParameters("13.2,99,97,104")

	p, err := h.Parameters()
	require.NoError(t, err)
	assert.Equal(t, ParameterSnapshot{Voltage: "13.2", TempHead: 37.2, TempPan: 36.1, TempTilt: 40}, p)
}

func TestHead_SendCommand(t *testing.T) {
	h, _, _ := newHead(t, false, nil)
	assert.Equal(t, ErrNotInitialized, h.SendCommand(ptu.CmdArg("PP", 4002)))
	_, err := h.SendQuery(ptu.Cmd("PP"))
	assert.Equal(t, ErrNotInitialized, err)

	require.NoError(t, h.Initialize())
	require.NoError(t, h.SendCommand(ptu.CmdArg("PP", 4002)))
	val, err := h.SendQuery(ptu.Cmd("PP"))
	require.NoError(t, err)
	assert.Equal(t, "4002", val)

	err = h.SendCommand(ptu.Cmd("QQ"))
	var ce *ptu.CommandError
	assert.ErrorAs(t, err, &ce)
	assert.True(t, h.Initialized())
}

func TestHead_SendCommand_Position(t *testing.T) {
	h, dev, _ := initHead(t, true, nil)
	<-h.Updates()
	n := len(dev.Received())

	err := h.SendCommand(ptu.CmdArg("TP", -40000))
	var ce *units.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, units.Tilt, ce.Axis)
	assert.Equal(t, -27999, ce.Min)
	assert.Len(t, dev.Received(), n)
	_, tilt := dev.Position()
	assert.Equal(t, 0, tilt)

	require.NoError(t, h.SendCommand(ptu.CmdArg("TP", -27999)))
	assert.Equal(t, -27999, h.Axis(units.Tilt).Position)
	assert.Equal(t, [2]int{0, -27999}, <-h.Updates())

	dev.SetPosition(700, -27999)
	val, err := h.SendQuery(ptu.Cmd("PP"))
	require.NoError(t, err)
	assert.Equal(t, "700", val)
	assert.Equal(t, 700, h.Axis(units.Pan).Position)
	assert.Equal(t, [2]int{700, -27999}, <-h.Updates())
}

func TestHead_ReconnectedRetryKeepsHead(t *testing.T) {
	dev := sim.NewDevice(false)
	l := sim.NewLink(dev)
	require.NoError(t, l.Open())
	cfg := DefaultConfig()
	cfg.Settle = 0
	cfg.SlipRing = false
	h := New(ptu.NewConn(l, ptu.Config{ReconnectOnRetry: true}), cfg)
	require.NoError(t, h.Initialize())

	// the first attempt loses the link, the retry after reopening times out
	l.Break()
	dev.Drop(ptu.CodeAwait, 1)
	err := h.SendCommand(ptu.Cmd(ptu.CodeAwait))
	var ce *ptu.CommandError
	require.ErrorAs(t, err, &ce)
	assert.True(t, link.IsConnection(ce.Err))
	assert.True(t, link.IsTimeout(ce.Last))
	assert.Equal(t, 2, l.Opens())

	assert.True(t, h.Initialized())
	assert.NoError(t, h.MovePosition(100, 100))
}

func TestHead_LinkLost(t *testing.T) {
	h, _, l := initHead(t, false, nil)
	l.Break()

	_, err := h.CurrentPosition()
	assert.True(t, link.IsConnection(err))
	assert.False(t, h.Initialized())

	assert.True(t, errors.Is(h.MovePosition(0, 0), ErrClosed))
	assert.True(t, errors.Is(h.Initialize(), ErrClosed))
	_, err = h.Parameters()
	assert.Equal(t, ErrClosed, err)

	for range h.Updates() {
	}
}

func TestHead_Close(t *testing.T) {
	h, _, _ := initHead(t, false, nil)
	require.NoError(t, h.Close())
	_, err := h.CurrentPositionDegrees()
	assert.Equal(t, ErrClosed, err)

	<-h.Updates()
	_, ok := <-h.Updates()
	assert.False(t, ok)
	assert.NoError(t, h.Close())
}
