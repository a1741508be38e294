package link

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is wrapped by a *ConnectionError when a closed link is used.
var ErrClosed = errors.New("link closed")

// ConnectionError means the link is unreachable or broken. The Transport
// must be reopened before it can be used again.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("link: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is returned by ReadUntil when no terminator arrived in time.
type TimeoutError struct {
	After time.Duration

	// Partial holds whatever was received before the deadline.
	Partial []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("link: no reply after %s (received %q)", e.After, e.Partial)
}

// Timeout reports true, matching net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnection reports whether err is or wraps a *ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
