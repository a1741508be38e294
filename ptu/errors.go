package ptu

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for transactions on a closed Conn.
var ErrClosed = errors.New("ptu: connection closed")

// ReplyError means the device answered, but not with what the transaction
// expected.
type ReplyError struct {
	Reply  string
	Reason string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("ptu: %s: %q", e.Reason, e.Reply)
}

// CommandError is returned when both attempts of a command failed. Err is the
// cause of the first attempt, Last the cause of the retry.
type CommandError struct {
	Command  Command
	Attempts int
	Err      error
	Last     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ptu: command %s failed after %d attempts: %v", e.Command, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// QueryError is returned when both attempts of a query failed.
type QueryError struct {
	Query    Command
	Attempts int
	Err      error
	Last     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("ptu: query %s failed after %d attempts: %v", e.Query, e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
