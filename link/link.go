// Package link provides the byte oriented links used to talk to a pan/tilt
// head: a TCP socket, a local serial line, or a serial line reached through a
// serial-port-json-server bridge.
//
// Links report failures faithfully and never retry; that is left to the
// protocol layer.
package link

import (
	"fmt"
	"time"
)

// A Transport is a half-duplex byte link to the device.
type Transport interface {
	// Open establishes the link. It fails with a *ConnectionError if the
	// target is unreachable or the port cannot be claimed.
	Open() error

	// Write sends raw bytes, failing with a *ConnectionError on a broken link.
	Write(p []byte) (int, error)

	// ReadUntil blocks until term is seen or timeout elapses. The returned
	// bytes exclude the terminator. Bytes received after the terminator are
	// kept for the next call.
	ReadUntil(term byte, timeout time.Duration) ([]byte, error)

	// Drain discards any pending input.
	Drain() error

	// Close releases the underlying resource. It is safe to call more than once.
	Close() error
}

// Kind selects a Transport variant.
type Kind string

// Supported kinds.
const (
	KindTCP    Kind = "tcp"
	KindSerial Kind = "serial"
	KindSPJS   Kind = "spjs"
)

// Config describes how to reach the device.
type Config struct {
	Kind Kind `json:"kind"`

	// Address is host:port for tcp, the device path for serial, and the
	// websocket URL of the bridge for spjs.
	Address string `json:"address"`

	// Port is the serial port name on the bridge (spjs only).
	Port string `json:"port,omitempty"`

	Baud   int    `json:"baud,omitempty"`
	Parity string `json:"parity,omitempty"`

	ConnectTimeout time.Duration `json:"connectTimeout,omitempty"`
	KeepAlive      time.Duration `json:"keepAlive,omitempty"`

	// ReadPoll is the per-read timeout of the serial port. ReadUntil keeps
	// polling until its own deadline.
	ReadPoll time.Duration `json:"readPoll,omitempty"`
}

// Device defaults.
const (
	DefaultTCPPort        = 4000
	DefaultBaud           = 9600
	DefaultConnectTimeout = 10 * time.Second
	DefaultKeepAlive      = 10 * time.Second
	DefaultReadPoll       = 100 * time.Millisecond
)

// DefaultConfig returns a config for kind with the device defaults filled in.
func DefaultConfig(kind Kind, address string) Config {
	return Config{
		Kind:           kind,
		Address:        address,
		Baud:           DefaultBaud,
		Parity:         "N",
		ConnectTimeout: DefaultConnectTimeout,
		KeepAlive:      DefaultKeepAlive,
		ReadPoll:       DefaultReadPoll,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig(cfg.Kind, cfg.Address)
	if cfg.Baud == 0 {
		cfg.Baud = def.Baud
	}
	if cfg.Parity == "" {
		cfg.Parity = def.Parity
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.ReadPoll == 0 {
		cfg.ReadPoll = def.ReadPoll
	}
	return cfg
}

// New returns an unopened Transport for cfg.
func New(cfg Config) (Transport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("link: %s: address is required", cfg.Kind)
	}
	switch cfg.Kind {
	case KindTCP:
		return NewTCP(cfg), nil
	case KindSerial:
		if _, err := parseParity(cfg.Parity); err != nil {
			return nil, err
		}
		return NewSerial(cfg), nil
	case KindSPJS:
		if cfg.Port == "" {
			return nil, fmt.Errorf("link: spjs: port is required")
		}
		return NewSPJS(cfg), nil
	}
	return nil, fmt.Errorf("link: unsupported kind %q", cfg.Kind)
}
