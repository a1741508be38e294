package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastercactapus/ptu/spjs"
)

// SPJS is a Transport to a serial port on a remote serial-port-json-server.
type SPJS struct {
	cfg Config
	log zerolog.Logger

	mx sync.Mutex
	sp *spjs.SPJS

	buf frameBuffer
}

var _ Transport = &SPJS{}

// NewSPJS returns an unopened bridge transport. cfg.Address is the websocket
// URL, cfg.Port the port name on the bridge.
func NewSPJS(cfg Config) *SPJS {
	return &SPJS{cfg: cfg.withDefaults(), log: zerolog.Nop()}
}

// SetLogger sets the logger handed to the bridge client on Open.
func (s *SPJS) SetLogger(log zerolog.Logger) { s.log = log }

func (s *SPJS) current() *spjs.SPJS {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.sp
}

func (s *SPJS) Open() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.sp != nil {
		return nil
	}
	sp, err := spjs.Dial(s.cfg.Address, s.log)
	if err != nil {
		return &ConnectionError{Op: "open", Addr: s.cfg.Address, Err: err}
	}
	open := fmt.Sprintf("open %s %d", s.cfg.Port, s.cfg.Baud)
	// reopen the port whenever the bridge connection is reestablished
	sp.OnReconnect(open)
	err = sp.WriteString(open)
	if err != nil {
		sp.Close()
		return &ConnectionError{Op: "open", Addr: s.cfg.Address, Err: err}
	}
	s.sp = sp
	s.buf.reset()
	return nil
}

func (s *SPJS) Write(p []byte) (int, error) {
	sp := s.current()
	if sp == nil {
		return 0, &ConnectionError{Op: "write", Addr: s.cfg.Address, Err: ErrClosed}
	}
	err := sp.SendJSON(spjs.JSON{
		Port: s.cfg.Port,
		Data: []spjs.Data{{Data: string(p), ID: spjs.NextID()}},
	})
	if err != nil {
		return 0, &ConnectionError{Op: "write", Addr: s.cfg.Address, Err: err}
	}
	return len(p), nil
}

// collect appends a bridge message to the buffer if it carries data for our port.
func (s *SPJS) collect(msg interface{}) {
	if df, ok := msg.(*spjs.DataFrame); ok && df.Port == s.cfg.Port {
		s.buf.write([]byte(df.Data))
	}
}

func (s *SPJS) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	sp := s.current()
	if sp == nil {
		return nil, &ConnectionError{Op: "read", Addr: s.cfg.Address, Err: ErrClosed}
	}

	lost := sp.Lost()
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		if frame, ok := s.buf.next(term); ok {
			return frame, nil
		}
		select {
		case msg := <-sp.Messages():
			s.collect(msg)
		case <-lost:
			return nil, &ConnectionError{Op: "read", Addr: s.cfg.Address, Err: spjs.ErrDisconnected}
		case <-sp.Done():
			return nil, &ConnectionError{Op: "read", Addr: s.cfg.Address, Err: ErrClosed}
		case <-t.C:
			return nil, &TimeoutError{After: timeout, Partial: s.buf.take()}
		}
	}
}

func (s *SPJS) Drain() error {
	sp := s.current()
	if sp == nil {
		return &ConnectionError{Op: "drain", Addr: s.cfg.Address, Err: ErrClosed}
	}
	select {
	case <-sp.Lost():
		return &ConnectionError{Op: "drain", Addr: s.cfg.Address, Err: spjs.ErrDisconnected}
	default:
	}
	s.buf.reset()
	for {
		select {
		case <-sp.Messages():
		default:
			return nil
		}
	}
}

// Close releases the port on the bridge when it is reachable and stops the
// client. It is safe to call more than once.
func (s *SPJS) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.sp == nil {
		return nil
	}
	if err := s.sp.WriteString("close " + s.cfg.Port); err != nil {
		s.log.Debug().Err(err).Msg("close port")
	}
	err := s.sp.Close()
	s.sp = nil
	s.buf.reset()
	return err
}
