// Package sim is a software model of a PTU-D48E pan/tilt head. It speaks the
// same ASCII protocol as the real device and is used by tests and by the
// daemon when no hardware is attached.
package sim

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/units"
)

// Banner is printed by the device when a connection opens.
const Banner = "PAN-TILT CONTROLLER v3.3.0, (C)2010-2015 FLIR Commercial Systems, Inc., All Rights Reserved\r\n"

const illegal = "! Illegal Command Entered"

// settings accepted and stored without further effect on the model
var settings = map[string]bool{
	"ED": true, "EE": true, "FT": true, "FV": true, "CEC": true, "RD": true,
	"PHL": true, "PHR": true, "THL": true, "THR": true,
	"PML": true, "PMH": true, "TML": true, "TMH": true,
	"PA": true, "TA": true, "PU": true, "TU": true, "PS": true, "TS": true,
	"RPS": true, "RTS": true, "WTA": true, "WPA": true, "DS": true,
}

// Device is the simulated head. The zero value is not usable; use NewDevice.
type Device struct {
	mx sync.Mutex

	pan, tilt int

	panArcSec, tiltArcSec float64

	panMin, panMax   int
	tiltMin, tiltMax int
	limitsOn         bool
	continuous       bool

	slipRing   bool
	parameters string

	// lost steps added to every absolute move
	slipPan, slipTilt int

	settings map[string]int

	drop   map[string]int
	garble map[string]int

	received []string
}

// NewDevice returns a device at position zero with nominal resolutions.
func NewDevice(slipRing bool) *Device {
	return &Device{
		panArcSec:  units.DefaultPanArcSeconds,
		tiltArcSec: units.DefaultTiltArcSeconds,
		panMin:     -units.DefaultPanLimit,
		panMax:     units.DefaultPanLimit,
		tiltMin:    units.DefaultTiltMin,
		tiltMax:    units.DefaultTiltMax,
		slipRing:   slipRing,
		parameters: "13.2,25.6,23.9,26.1",
		settings:   make(map[string]int),
		drop:       make(map[string]int),
		garble:     make(map[string]int),
	}
}

// SetParameters sets the payload returned by the diagnostics query.
func (d *Device) SetParameters(payload string) {
	d.mx.Lock()
	d.parameters = payload
	d.mx.Unlock()
}

// SetResolution sets the resolutions reported in arc-seconds per step.
func (d *Device) SetResolution(panArcSec, tiltArcSec float64) {
	d.mx.Lock()
	d.panArcSec, d.tiltArcSec = panArcSec, tiltArcSec
	d.mx.Unlock()
}

// SetPosition moves the model without a command, as if pushed by hand.
func (d *Device) SetPosition(pan, tilt int) {
	d.mx.Lock()
	d.pan, d.tilt = pan, tilt
	d.mx.Unlock()
}

// SetSlip makes every following move end off target by the given steps,
// as a stalled motor would.
func (d *Device) SetSlip(pan, tilt int) {
	d.mx.Lock()
	d.slipPan, d.slipTilt = pan, tilt
	d.mx.Unlock()
}

// Position returns the model position in steps.
func (d *Device) Position() (pan, tilt int) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.pan, d.tilt
}

// Setting returns the last argument stored for a settings code.
func (d *Device) Setting(code string) (int, bool) {
	d.mx.Lock()
	defer d.mx.Unlock()
	v, ok := d.settings[code]
	return v, ok
}

// Continuous reports whether continuous pan has been enabled.
func (d *Device) Continuous() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.continuous
}

// Drop makes the device ignore the next n commands with code.
func (d *Device) Drop(code string, n int) {
	d.mx.Lock()
	d.drop[code] += n
	d.mx.Unlock()
}

// Garble makes the device answer the next n commands with code with noise.
func (d *Device) Garble(code string, n int) {
	d.mx.Lock()
	d.garble[code] += n
	d.mx.Unlock()
}

// Received returns every command line seen, in order.
func (d *Device) Received() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.received...)
}

func frame(s string) []byte {
	return []byte("\n" + s + "\r\n")
}

// Handle processes one command line (without the carriage return) and
// returns the bytes the device writes back. A nil result means no reply.
func (d *Device) Handle(line string) []byte {
	d.mx.Lock()
	defer d.mx.Unlock()

	d.received = append(d.received, line)

	cmd, err := ptu.ParseCommand(line)
	if err != nil {
		return frame(illegal)
	}
	if d.drop[cmd.Code] > 0 {
		d.drop[cmd.Code]--
		return nil
	}
	if d.garble[cmd.Code] > 0 {
		d.garble[cmd.Code]--
		return frame("#?" + cmd.Code)
	}
	return frame(d.run(cmd))
}

func (d *Device) run(cmd ptu.Command) string {
	if settings[cmd.Code] {
		d.settings[cmd.Code] = cmd.Arg
		return "*"
	}

	switch cmd.Code {
	case ptu.CodePanPosition:
		if !cmd.HasArg {
			return "* " + strconv.Itoa(d.pan)
		}
		if d.limitsOn && !d.continuous && (cmd.Arg < d.panMin || cmd.Arg > d.panMax) {
			return "! Maximum allowable Pan position exceeded."
		}
		d.pan = cmd.Arg + d.slipPan
		return "*"
	case ptu.CodeTiltPosition:
		if !cmd.HasArg {
			return "* " + strconv.Itoa(d.tilt)
		}
		if d.limitsOn && (cmd.Arg < d.tiltMin || cmd.Arg > d.tiltMax) {
			return "! Maximum allowable Tilt position exceeded."
		}
		d.tilt = cmd.Arg + d.slipTilt
		return "*"
	case ptu.CodePanResolution:
		return "* " + strconv.FormatFloat(d.panArcSec, 'f', 6, 64)
	case ptu.CodeTiltResolution:
		return "* " + strconv.FormatFloat(d.tiltArcSec, 'f', 6, 64)
	case "PN":
		return "* " + strconv.Itoa(d.panMin)
	case "PX":
		return "* " + strconv.Itoa(d.panMax)
	case "TN":
		return "* " + strconv.Itoa(d.tiltMin)
	case "TX":
		return "* " + strconv.Itoa(d.tiltMax)
	case "PNU":
		d.panMin = cmd.Arg
		return "*"
	case "PXU":
		d.panMax = cmd.Arg
		return "*"
	case "TNU":
		d.tiltMin = cmd.Arg
		return "*"
	case "TXU":
		d.tiltMax = cmd.Arg
		return "*"
	case "LU":
		d.limitsOn = true
		return "*"
	case "PCE":
		if !d.slipRing {
			return "! Continuous rotation not supported"
		}
		d.continuous = true
		return "*"
	case ptu.CodeDiagnostics:
		return "* " + d.parameters
	case ptu.CodeAwait:
		return "*"
	case ptu.CodeReset:
		d.pan, d.tilt = 0, 0
		return "!T!P*"
	case ptu.CodeResetPan:
		d.pan = 0
		return "!P*"
	case ptu.CodeResetTilt:
		d.tilt = 0
		return "!T*"
	}
	return illegal
}

// ServeConn answers commands read from rw until it fails or reaches EOF.
func (d *Device) ServeConn(rw io.ReadWriter) error {
	if _, err := io.WriteString(rw, Banner); err != nil {
		return err
	}
	br := bufio.NewReader(rw)
	for {
		s, err := br.ReadString('\r')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		reply := d.Handle(s)
		if reply == nil {
			continue
		}
		if _, err := rw.Write(reply); err != nil {
			return err
		}
	}
}

// Serve accepts connections on l and serves each one until l is closed.
func (d *Device) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			d.ServeConn(conn)
		}()
	}
}
