package link

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// drainWindow is how long Drain waits for stray bytes on a socket.
const drainWindow = 20 * time.Millisecond

// TCP is a Transport over a TCP socket, as used by the Ethernet models.
type TCP struct {
	cfg Config

	mx   sync.Mutex
	conn net.Conn

	buf frameBuffer
	rd  []byte
}

var _ Transport = &TCP{}

// NewTCP returns an unopened TCP transport. An address without a port gets
// DefaultTCPPort.
func NewTCP(cfg Config) *TCP {
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		cfg.Address = net.JoinHostPort(cfg.Address, strconv.Itoa(DefaultTCPPort))
	}
	return &TCP{
		cfg: cfg.withDefaults(),
		rd:  make([]byte, 256),
	}
}

func (t *TCP) current() net.Conn {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.conn
}

// Open dials the device with the configured connect timeout and keepalive.
func (t *TCP) Open() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: t.cfg.ConnectTimeout, KeepAlive: t.cfg.KeepAlive}
	conn, err := d.Dial("tcp", t.cfg.Address)
	if err != nil {
		return &ConnectionError{Op: "open", Addr: t.cfg.Address, Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// small command frames; the device answers each one before the next
		tc.SetNoDelay(true)
	}
	t.conn = conn
	t.buf.reset()
	return nil
}

func (t *TCP) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, &ConnectionError{Op: "write", Addr: t.cfg.Address, Err: ErrClosed}
	}
	conn.SetWriteDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	n, err := conn.Write(p)
	if err != nil {
		return n, &ConnectionError{Op: "write", Addr: t.cfg.Address, Err: err}
	}
	return n, nil
}

func (t *TCP) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, &ConnectionError{Op: "read", Addr: t.cfg.Address, Err: ErrClosed}
	}

	deadline := time.Now().Add(timeout)
	for {
		if frame, ok := t.buf.next(term); ok {
			return frame, nil
		}
		conn.SetReadDeadline(deadline)
		n, err := conn.Read(t.rd)
		t.buf.write(t.rd[:n])
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if frame, ok := t.buf.next(term); ok {
				return frame, nil
			}
			return nil, &TimeoutError{After: timeout, Partial: t.buf.take()}
		}
		return nil, &ConnectionError{Op: "read", Addr: t.cfg.Address, Err: err}
	}
}

// Drain drops buffered bytes and anything that arrives within a short window.
func (t *TCP) Drain() error {
	conn := t.current()
	if conn == nil {
		return &ConnectionError{Op: "drain", Addr: t.cfg.Address, Err: ErrClosed}
	}
	t.buf.reset()
	defer conn.SetReadDeadline(time.Time{})
	for {
		conn.SetReadDeadline(time.Now().Add(drainWindow))
		_, err := conn.Read(t.rd)
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return &ConnectionError{Op: "drain", Addr: t.cfg.Address, Err: err}
	}
}

// Close closes the socket. Closing a closed transport is a no-op.
func (t *TCP) Close() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.buf.reset()
	return err
}
