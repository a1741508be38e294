// Package spjs is a client for serial-port-json-server, a websocket bridge
// that exposes the serial ports of a remote machine.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("spjs: closed")

	// ErrDisconnected is returned when sending while the bridge connection
	// is down.
	ErrDisconnected = errors.New("spjs: disconnected")
)

const (
	reconnectDelay = 3 * time.Second
	writeWait      = 5 * time.Second
)

type SPJS struct {
	url string
	log zerolog.Logger

	outgoing  chan message
	incomming chan interface{}

	done      chan struct{}
	closeOnce sync.Once

	mx     sync.Mutex
	lost   chan struct{}
	replay []string
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name         string
	Friendly     string
	SerialNumber string
	IsOpen       bool
	Baud         int
}

// Dial connects to the bridge at url. The first connection is made before
// returning; later disconnects are retried in the background until Close.
func Dial(url string, log zerolog.Logger) (*SPJS, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	sp := &SPJS{
		url:       url,
		log:       log.With().Str("bridge", url).Logger(),
		outgoing:  make(chan message),
		incomming: make(chan interface{}, 1000),
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}

	go sp.loop(ws)

	return sp, nil
}

// Messages delivers parsed messages from the bridge.
func (sp *SPJS) Messages() <-chan interface{} {
	return sp.incomming
}

// Done is closed once Close has been called.
func (sp *SPJS) Done() <-chan struct{} {
	return sp.done
}

// Lost is closed when the current bridge connection drops. After a
// reconnect it returns a new channel.
func (sp *SPJS) Lost() <-chan struct{} {
	sp.mx.Lock()
	defer sp.mx.Unlock()
	return sp.lost
}

// OnReconnect sets raw bridge commands written first on every new
// connection, such as the "open" of a serial port.
func (sp *SPJS) OnReconnect(cmds ...string) {
	sp.mx.Lock()
	sp.replay = cmds
	sp.mx.Unlock()
}

// Close stops the reconnect loop and drops the connection.
func (sp *SPJS) Close() error {
	sp.closeOnce.Do(func() { close(sp.done) })
	return nil
}

func parseSPJSMessage(data []byte, msg map[string]json.RawMessage) (val interface{}, err error) {
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}
func (sp *SPJS) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			sp.log.Debug().Err(err).Msg("read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			sp.log.Warn().Err(err).Msg("decode")
			continue
		}
		val, err := parseSPJSMessage(data, msg)
		if err != nil {
			sp.log.Debug().Err(err).Msg("parse")
			continue
		}
		select {
		case sp.incomming <- val:
		case <-sp.done:
			return
		}
	}
}

func (sp *SPJS) dial() *websocket.Conn {
	for {
		sp.log.Info().Msg("connecting")
		ws, _, err := websocket.DefaultDialer.Dial(sp.url, nil)
		if err == nil {
			sp.log.Info().Msg("connected")
			return ws
		}
		sp.log.Error().Err(err).Msg("connect")
		select {
		case <-sp.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (sp *SPJS) write(ws *websocket.Conn, data []byte) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// serve writes queued messages to ws until the connection drops or the
// client is closed. It reports whether the client was closed.
func (sp *SPJS) serve(ws *websocket.Conn, replay []string) bool {
	for _, cmd := range replay {
		if err := sp.write(ws, []byte(cmd)); err != nil {
			sp.log.Error().Err(err).Str("cmd", cmd).Msg("replay")
			return false
		}
	}

	readDone := make(chan struct{})
	go sp.readLoop(ws, readDone)

	for {
		select {
		case <-sp.done:
			return true
		case <-readDone:
			return false
		case msg := <-sp.outgoing:
			if err := sp.write(ws, msg.payload); err != nil {
				sp.log.Error().Err(err).Msg("send")
				return false
			}
			close(msg.done)
		}
	}
}

func (sp *SPJS) loop(ws *websocket.Conn) {
	var replay []string
	for {
		closed := sp.serve(ws, replay)
		ws.Close()

		sp.mx.Lock()
		close(sp.lost)
		sp.mx.Unlock()
		if closed {
			return
		}
		sp.log.Warn().Msg("disconnected")

		ws = sp.dial()
		if ws == nil {
			return
		}
		sp.mx.Lock()
		sp.lost = make(chan struct{})
		replay = sp.replay
		sp.mx.Unlock()
	}
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

var lastID int64

// NextID returns a unique id for a queued Data item.
func NextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "ptu_" + strconv.FormatInt(id, 36)
}

// send hands payload to the connection loop and waits until it is written.
// It fails at once while the bridge is unreachable.
func (sp *SPJS) send(payload []byte) error {
	lost := sp.Lost()
	select {
	case <-sp.done:
		return ErrClosed
	case <-lost:
		return ErrDisconnected
	default:
	}

	msg := message{done: make(chan struct{}), payload: payload}
	select {
	case sp.outgoing <- msg:
	case <-lost:
		return ErrDisconnected
	case <-sp.done:
		return ErrClosed
	}
	select {
	case <-msg.done:
		return nil
	case <-lost:
	case <-sp.done:
	}
	// the write may have completed just before the connection went away
	select {
	case <-msg.done:
		return nil
	case <-sp.done:
		return ErrClosed
	default:
		return ErrDisconnected
	}
}

// SendJSON sends data for a port using the bridge's sendjson command and
// waits until it has been written to the websocket.
func (sp *SPJS) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sp.send(append([]byte("sendjson "), data...))
}

// WriteString sends a raw bridge command such as "list" or "open ...".
func (sp *SPJS) WriteString(data string) error {
	return sp.send([]byte(data))
}
