package ptu

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/ptu/link"
)

// step is the scripted device behavior for one write.
type step struct {
	reply string
	err   error
}

type fakeTransport struct {
	steps   []step
	writes  []string
	pending []byte
	readErr error

	writeErr error
	opens    int
	closes   int
}

func (f *fakeTransport) Open() error { f.opens++; return nil }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes = append(f.writes, string(p))
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if len(f.steps) == 0 {
		return len(p), nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	if s.err != nil {
		f.readErr = s.err
	} else {
		f.pending = append(f.pending, s.reply...)
	}
	return len(p), nil
}

func (f *fakeTransport) ReadUntil(term byte, timeout time.Duration) ([]byte, error) {
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return nil, err
	}
	i := bytes.IndexByte(f.pending, term)
	if i < 0 {
		return nil, &link.TimeoutError{After: timeout}
	}
	frame := f.pending[:i]
	f.pending = f.pending[i+1:]
	return frame, nil
}

func (f *fakeTransport) Drain() error { f.pending = nil; return nil }
func (f *fakeTransport) Close() error { f.closes++; return nil }

const (
	ack     = "\n*\r\n"
	illegal = "\n! Illegal Command Entered\r\n"
)

func reply(v string) string { return "\n* " + v + "\r\n" }

func TestConn_SendCommand(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: ack}}}
	c := NewConn(ft, Config{})

	assert.NoError(t, c.SendCommand(CmdArg("PP", 4002)))
	assert.Equal(t, []string{"PP4002\r"}, ft.writes)
	assert.Equal(t, StateIdle, c.State())
}

func TestConn_SendCommand_RetryOnce(t *testing.T) {
	ft := &fakeTransport{steps: []step{{}, {reply: ack}}}
	c := NewConn(ft, Config{})

	assert.NoError(t, c.SendCommand(Cmd("A")))
	assert.Equal(t, []string{"A\r", "A\r"}, ft.writes)
	assert.Equal(t, StateIdle, c.State())
}

func TestConn_SendCommand_TimeoutTwice(t *testing.T) {
	ft := &fakeTransport{steps: []step{{}, {}, {reply: ack}}}
	c := NewConn(ft, Config{})

	err := c.SendCommand(Cmd("R"))
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Attempts)
	assert.Equal(t, "R", ce.Command.String())
	assert.True(t, link.IsTimeout(err))
	assert.True(t, link.IsTimeout(ce.Last))
	assert.Len(t, ft.writes, 2)
	assert.Equal(t, StateFailed, c.State())

	// the channel stays usable
	assert.NoError(t, c.SendCommand(Cmd("R")))
}

func TestConn_SendCommand_DeviceError(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: illegal}, {reply: illegal}}}
	c := NewConn(ft, Config{})

	err := c.SendCommand(Cmd("XYZ"))
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "device error", re.Reason)
	assert.Len(t, ft.writes, 2)
}

func TestConn_SendCommand_ResetMarkers(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: "\n!T!P*\r\n"}, {reply: "\n!P*\r\n"}}}
	c := NewConn(ft, Config{})

	assert.NoError(t, c.SendCommand(Cmd(CodeReset)))
	assert.NoError(t, c.SendCommand(Cmd(CodeResetPan)))
	assert.Len(t, ft.writes, 2)
}

func TestConn_SendCommand_MarkersOnlyForReset(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: "\n!T!P*\r\n"}, {reply: ack}}}
	c := NewConn(ft, Config{})

	assert.NoError(t, c.SendCommand(Cmd(CodeAwait)))
	assert.Len(t, ft.writes, 2)
}

func TestConn_SendCommand_Invalid(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConn(ft, Config{})

	assert.Error(t, c.SendCommand(Cmd("pp")))
	assert.Error(t, c.SendCommand(Cmd("ABCD")))
	assert.Empty(t, ft.writes)
}

func TestConn_SendQuery(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: ack}, {reply: reply("4002")}}}
	c := NewConn(ft, Config{})

	require.NoError(t, c.SendCommand(CmdArg("PP", 4002)))
	val, err := c.SendQuery(Cmd("PP"))
	require.NoError(t, err)
	assert.Equal(t, "4002", val)
}

func TestConn_SendQuery_RetryOnMalformed(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: "\n#?PR\r\n"}, {reply: reply("23.142857")}}}
	c := NewConn(ft, Config{})

	val, err := c.SendQuery(Cmd("PR"))
	require.NoError(t, err)
	assert.Equal(t, "23.142857", val)
	assert.Len(t, ft.writes, 2)
}

func TestConn_SendQuery_RetryOnTimeout(t *testing.T) {
	ft := &fakeTransport{steps: []step{{}, {reply: reply("4002")}}}
	c := NewConn(ft, Config{})

	val, err := c.SendQuery(Cmd("PP"))
	require.NoError(t, err)
	assert.Equal(t, "4002", val)
	assert.Equal(t, []string{"PP\r", "PP\r"}, ft.writes)
	assert.Equal(t, StateIdle, c.State())
}

func TestConn_SendQuery_Fails(t *testing.T) {
	ft := &fakeTransport{steps: []step{{reply: ack}, {}}}
	c := NewConn(ft, Config{})

	val, err := c.SendQuery(Cmd("TP"))
	assert.Empty(t, val)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 2, qe.Attempts)
	var re *ReplyError
	assert.ErrorAs(t, qe.Err, &re)
	assert.True(t, link.IsTimeout(qe.Last))
}

func TestConn_ConnectionError(t *testing.T) {
	ft := &fakeTransport{writeErr: &link.ConnectionError{Op: "write", Addr: "test", Err: io.ErrClosedPipe}}
	c := NewConn(ft, Config{})

	err := c.SendCommand(Cmd("A"))
	assert.True(t, link.IsConnection(err))
	assert.Len(t, ft.writes, 1)
	assert.Equal(t, 1, ft.closes)
	assert.Equal(t, StateClosed, c.State())

	err = c.SendCommand(Cmd("A"))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Len(t, ft.writes, 1)
}

func TestConn_ReconnectOnRetry(t *testing.T) {
	lost := &link.ConnectionError{Op: "read", Addr: "test", Err: io.EOF}
	ft := &fakeTransport{steps: []step{{err: lost}, {reply: ack}}}
	c := NewConn(ft, Config{ReconnectOnRetry: true})

	assert.NoError(t, c.SendCommand(Cmd("A")))
	assert.Equal(t, 1, ft.opens)
	assert.Equal(t, 1, ft.closes)
	assert.Len(t, ft.writes, 2)
}

func TestConn_Timeout(t *testing.T) {
	c := NewConn(&fakeTransport{}, Config{})
	assert.Equal(t, 32*time.Second, c.Timeout(Cmd("PP"), false))
	assert.Equal(t, 25*time.Second, c.Timeout(Cmd("TP"), false))
	assert.Equal(t, 15*time.Second, c.Timeout(Cmd("RT"), false))
	assert.Equal(t, DefaultTimeout, c.Timeout(Cmd("ED"), false))
	assert.Equal(t, DefaultTimeout, c.Timeout(Cmd("PP"), true))
}

func TestConn_Close(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConn(ft, Config{})
	assert.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, ErrClosed, c.SendCommand(Cmd("A")))
}
