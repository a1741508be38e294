package link

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// openPort is replaced in tests.
var openPort = func(cfg Config) (io.ReadWriteCloser, error) {
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Address,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadPoll,
		Size:        8,
		Parity:      parity,
		StopBits:    serial.Stop1,
	})
}

func parseParity(s string) (serial.Parity, error) {
	switch strings.ToUpper(s) {
	case "", "N", "NONE":
		return serial.ParityNone, nil
	case "O", "ODD":
		return serial.ParityOdd, nil
	case "E", "EVEN":
		return serial.ParityEven, nil
	case "M", "MARK":
		return serial.ParityMark, nil
	case "S", "SPACE":
		return serial.ParitySpace, nil
	}
	return 0, fmt.Errorf("link: invalid parity %q", s)
}

// Serial is a Transport over an RS-232/RS-485 serial line.
type Serial struct {
	cfg Config

	mx   sync.Mutex
	port io.ReadWriteCloser

	buf frameBuffer
	rd  []byte
}

var _ Transport = &Serial{}

// NewSerial returns an unopened serial transport.
func NewSerial(cfg Config) *Serial {
	return &Serial{
		cfg: cfg.withDefaults(),
		rd:  make([]byte, 64),
	}
}

func (s *Serial) current() io.ReadWriteCloser {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.port
}

func (s *Serial) Open() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := openPort(s.cfg)
	if err != nil {
		return &ConnectionError{Op: "open", Addr: s.cfg.Address, Err: err}
	}
	s.port = port
	s.buf.reset()
	return nil
}

func (s *Serial) Write(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, &ConnectionError{Op: "write", Addr: s.cfg.Address, Err: ErrClosed}
	}
	n, err := port.Write(p)
	if err != nil {
		return n, &ConnectionError{Op: "write", Addr: s.cfg.Address, Err: err}
	}
	return n, nil
}

// ReadUntil polls the port until term arrives or timeout passes. A read that
// times out on the port itself comes back empty (or as io.EOF) and is not an
// error here.
func (s *Serial) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	port := s.current()
	if port == nil {
		return nil, &ConnectionError{Op: "read", Addr: s.cfg.Address, Err: ErrClosed}
	}

	deadline := time.Now().Add(timeout)
	for {
		if frame, ok := s.buf.next(term); ok {
			return frame, nil
		}
		if !time.Now().Before(deadline) {
			return nil, &TimeoutError{After: timeout, Partial: s.buf.take()}
		}
		n, err := port.Read(s.rd)
		s.buf.write(s.rd[:n])
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConnectionError{Op: "read", Addr: s.cfg.Address, Err: err}
		}
	}
}

// Drain reads until the port has nothing more to give.
func (s *Serial) Drain() error {
	port := s.current()
	if port == nil {
		return &ConnectionError{Op: "drain", Addr: s.cfg.Address, Err: ErrClosed}
	}
	s.buf.reset()
	for {
		n, err := port.Read(s.rd)
		if err != nil && !errors.Is(err, io.EOF) {
			return &ConnectionError{Op: "drain", Addr: s.cfg.Address, Err: err}
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *Serial) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.buf.reset()
	return err
}
