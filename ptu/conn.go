// Package ptu implements the ASCII command/reply protocol of FLIR PTU-D48
// pan/tilt heads on top of a link.Transport.
//
// Every transaction is a command line terminated by a carriage return,
// followed by one reply line. A bare "*" acknowledges a command, "* <value>"
// answers a query, and a line starting with "!" reports a device error.
package ptu

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastercactapus/ptu/link"
)

// maxAttempts is the first try plus exactly one retry.
const maxAttempts = 2

// DefaultTimeout applies to codes without an entry in Config.Timeouts.
const DefaultTimeout = 500 * time.Millisecond

// State is the position of a Conn in its transaction state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
	StateRetrying
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config controls framing, timeouts and retry behavior of a Conn.
type Config struct {
	// Terminator ends each reply line.
	Terminator byte

	// Timeout bounds the reply wait of queries and of commands not listed
	// in Timeouts.
	Timeout  time.Duration
	Timeouts map[string]time.Duration

	// ReconnectOnRetry closes and reopens the transport before the retry.
	// By default the retry reuses the existing link.
	ReconnectOnRetry bool

	Logger *zerolog.Logger
}

// DefaultConfig returns the framing and timeouts of a PTU-D48E.
func DefaultConfig() Config {
	return Config{
		Terminator: DefaultTerminator,
		Timeout:    DefaultTimeout,
		Timeouts: map[string]time.Duration{
			CodePanPosition:  32 * time.Second,
			CodeTiltPosition: 25 * time.Second,
			CodeAwait:        32 * time.Second,
			CodeReset:        15 * time.Second,
			CodeResetPan:     15 * time.Second,
			CodeResetTilt:    15 * time.Second,
		},
	}
}

// Conn runs one transaction at a time over a Transport.
type Conn struct {
	t   link.Transport
	cfg Config
	log zerolog.Logger

	mx sync.Mutex

	stateMx sync.Mutex
	state   State
}

// NewConn creates a Conn over an already opened Transport. Zero values in cfg
// fall back to DefaultConfig.
func NewConn(t link.Transport, cfg Config) *Conn {
	def := DefaultConfig()
	if cfg.Terminator == 0 {
		cfg.Terminator = def.Terminator
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = def.Timeouts
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "ptu").Logger()
	}
	return &Conn{t: t, cfg: cfg, log: log}
}

// State returns the current transaction state.
func (c *Conn) State() State {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMx.Lock()
	c.state = s
	c.stateMx.Unlock()
}

// Timeout returns the reply timeout used for cmd. Queries always use the
// default timeout.
func (c *Conn) Timeout(cmd Command, query bool) time.Duration {
	if query {
		return c.cfg.Timeout
	}
	if d, ok := c.cfg.Timeouts[cmd.Code]; ok {
		return d
	}
	return c.cfg.Timeout
}

// SendCommand sends cmd and waits for its acknowledgement, retrying once on a
// timeout or malformed reply. After two failures it returns a *CommandError.
func (c *Conn) SendCommand(cmd Command) error {
	_, err := c.transact(cmd, false)
	if err == nil {
		return nil
	}
	var fe *failure
	if errors.As(err, &fe) {
		return &CommandError{Command: cmd, Attempts: fe.attempts, Err: fe.first, Last: fe.last}
	}
	return err
}

// SendQuery sends cmd and returns the value of the reply, with the same retry
// discipline as SendCommand. After two failures it returns a *QueryError.
func (c *Conn) SendQuery(cmd Command) (string, error) {
	val, err := c.transact(cmd, true)
	if err == nil {
		return val, nil
	}
	var fe *failure
	if errors.As(err, &fe) {
		return "", &QueryError{Query: cmd, Attempts: fe.attempts, Err: fe.first, Last: fe.last}
	}
	return "", err
}

// failure carries the causes of an exhausted transaction to the typed errors.
type failure struct {
	attempts    int
	first, last error
}

func (f *failure) Error() string { return f.first.Error() }

func retryable(err error, reconnect bool) bool {
	var re *ReplyError
	switch {
	case link.IsTimeout(err), errors.As(err, &re):
		return true
	case link.IsConnection(err):
		return reconnect
	}
	return false
}

func (c *Conn) transact(cmd Command, query bool) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if c.State() == StateClosed {
		return "", ErrClosed
	}

	log := c.log.With().Str("cmd", cmd.String()).Logger()
	timeout := c.Timeout(cmd, query)

	var first, last error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		if attempts > 1 {
			c.setState(StateRetrying)
			log.Warn().Err(last).Msg("retrying")
			if c.cfg.ReconnectOnRetry {
				if err := c.reopen(); err != nil {
					last = err
					break
				}
			}
		}

		val, err := c.attempt(cmd, query, timeout)
		if err == nil {
			c.setState(StateIdle)
			log.Debug().Int("attempt", attempts).Str("reply", val).Msg("done")
			return val, nil
		}
		if first == nil {
			first = err
		}
		last = err

		if !retryable(err, c.cfg.ReconnectOnRetry) {
			break
		}
	}

	if link.IsConnection(last) {
		log.Error().Err(last).Msg("link lost")
		c.t.Close()
		c.setState(StateClosed)
		return "", last
	}

	c.setState(StateFailed)
	log.Error().Err(first).Int("attempts", attempts).Msg("failed")
	return "", &failure{attempts: attempts, first: first, last: last}
}

func (c *Conn) reopen() error {
	c.t.Close()
	return c.t.Open()
}

func (c *Conn) attempt(cmd Command, query bool, timeout time.Duration) (string, error) {
	if err := c.t.Drain(); err != nil {
		return "", err
	}

	c.setState(StateAwaitingReply)
	if _, err := c.t.Write(cmd.Bytes()); err != nil {
		return "", err
	}
	reply, err := c.readReply(timeout)
	if err != nil {
		return "", err
	}
	if query {
		return checkQuery(reply)
	}
	return "", checkAck(cmd, reply)
}

// readReply returns the next non-empty reply line. The device starts each
// reply with a line feed, which shows up as an empty frame.
func (c *Conn) readReply(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", &link.TimeoutError{After: timeout}
		}
		frame, err := c.t.ReadUntil(c.cfg.Terminator, remaining)
		if err != nil {
			return "", err
		}
		line := strings.TrimRight(string(frame), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, nil
	}
}

// Close closes the underlying transport. Further transactions fail with
// ErrClosed.
func (c *Conn) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.setState(StateClosed)
	return c.t.Close()
}
