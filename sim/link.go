package sim

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/mastercactapus/ptu/link"
)

// Link is an in-memory link.Transport wired to a Device. Reads never block:
// when the device has not answered, ReadUntil times out immediately.
type Link struct {
	dev *Device

	mx      sync.Mutex
	open    bool
	broken  bool
	line    []byte
	pending []byte
	opens   int

	// OpenErr, when set, makes Open fail with a *link.ConnectionError.
	OpenErr error
}

var _ link.Transport = (*Link)(nil)

// NewLink returns a closed Link to dev.
func NewLink(dev *Device) *Link {
	return &Link{dev: dev}
}

// Device returns the device behind the link.
func (l *Link) Device() *Device { return l.dev }

func (l *Link) connErr(op string, err error) error {
	return &link.ConnectionError{Op: op, Addr: "sim", Err: err}
}

// Open connects to the device, which greets with its banner.
func (l *Link) Open() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.OpenErr != nil {
		return l.connErr("open", l.OpenErr)
	}
	l.open = true
	l.broken = false
	l.opens++
	l.line = nil
	l.pending = append(l.pending[:0], Banner...)
	return nil
}

// Opens returns how many times Open succeeded.
func (l *Link) Opens() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.opens
}

// Break simulates a dropped link; every following operation fails until
// the link is reopened.
func (l *Link) Break() {
	l.mx.Lock()
	l.broken = true
	l.mx.Unlock()
}

func (l *Link) check(op string) error {
	if !l.open {
		return l.connErr(op, link.ErrClosed)
	}
	if l.broken {
		return l.connErr(op, io.ErrClosedPipe)
	}
	return nil
}

// Write feeds bytes to the device. Every carriage return completes a
// command line, whose reply becomes readable.
func (l *Link) Write(p []byte) (int, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := l.check("write"); err != nil {
		return 0, err
	}
	l.line = append(l.line, p...)
	for {
		i := bytes.IndexByte(l.line, '\r')
		if i < 0 {
			break
		}
		cmd := string(bytes.TrimSpace(l.line[:i]))
		l.line = l.line[i+1:]
		if cmd == "" {
			continue
		}
		l.pending = append(l.pending, l.dev.Handle(cmd)...)
	}
	return len(p), nil
}

// ReadUntil returns the next frame ending in term.
func (l *Link) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := l.check("read"); err != nil {
		return nil, err
	}
	i := bytes.IndexByte(l.pending, term)
	if i < 0 {
		partial := l.pending
		l.pending = nil
		return nil, &link.TimeoutError{After: timeout, Partial: partial}
	}
	frame := append([]byte(nil), l.pending[:i]...)
	l.pending = l.pending[i+1:]
	return frame, nil
}

// Drain discards unread replies.
func (l *Link) Drain() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if err := l.check("drain"); err != nil {
		return err
	}
	l.pending = nil
	return nil
}

// Close disconnects. It is safe to call more than once.
func (l *Link) Close() error {
	l.mx.Lock()
	l.open = false
	l.pending = nil
	l.line = nil
	l.mx.Unlock()
	return nil
}
