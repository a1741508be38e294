package main

import (
	"encoding/json"
	"errors"
	stdlog "log"
	"net/http"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mastercactapus/ptu/head"
	"github.com/mastercactapus/ptu/link"
	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/units"
)

const positionChannel = "/events/position"

type api struct {
	http.Handler
	c   Controller
	log zerolog.Logger
	sse *sse.Server

	// relayDone is closed once the controller stops sending updates.
	relayDone chan struct{}
}

type position struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

type positionDegrees struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

type commandRequest struct {
	Code string `json:"code"`
	Arg  *int   `json:"arg"`
}

func (r commandRequest) command() ptu.Command {
	if r.Arg == nil {
		return ptu.Cmd(r.Code)
	}
	return ptu.CmdArg(r.Code, *r.Arg)
}

func newAPI(c Controller, log zerolog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		c:       c,
		log:     log,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(log.With().Str("component", "sse").Logger(), "", 0),
		}),
		relayDone: make(chan struct{}),
	}

	r.HandleFunc("/api/initialize", a.initialize).Methods("POST")
	r.HandleFunc("/api/move", a.move).Methods("POST")
	r.HandleFunc("/api/move/degrees", a.moveDegrees).Methods("POST")
	r.HandleFunc("/api/park", a.park).Methods("POST")
	r.HandleFunc("/api/position", a.position).Methods("GET")
	r.HandleFunc("/api/position/degrees", a.positionDegrees).Methods("GET")
	r.HandleFunc("/api/parameters", a.parameters).Methods("GET")
	r.HandleFunc("/api/command", a.command).Methods("POST")
	r.HandleFunc("/api/query", a.query).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.PathPrefix("/events/").Handler(a.sse)

	go func() {
		defer close(a.relayDone)
		for pos := range c.Updates() {
			data, err := json.Marshal(position{Pan: pos[0], Tilt: pos[1]})
			if err != nil {
				log.Error().Err(err).Msg("marshal position")
				continue
			}
			a.sse.SendMessage(positionChannel, sse.SimpleMessage(string(data)))
		}
	}()

	return a
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ce *units.ConversionError
		me *head.MoveError
		ie *head.InitializationError
		re *ptu.ReplyError
		cm *ptu.CommandError
		qe *ptu.QueryError
	)
	switch {
	case errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.Is(err, head.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, head.ErrClosed), errors.Is(err, ptu.ErrClosed), link.IsConnection(err):
		return http.StatusServiceUnavailable
	case link.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &me), errors.As(err, &ie), errors.As(err, &re),
		errors.As(err, &cm), errors.As(err, &qe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *api) fail(w http.ResponseWriter, req *http.Request, err error) {
	code := statusFor(err)
	ev := a.log.Warn()
	if code >= 500 {
		ev = a.log.Error()
	}
	ev.Err(err).Str("path", req.URL.Path).Int("status", code).Msg("request failed")
	http.Error(w, err.Error(), code)
}

func (a *api) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.log.Error().Err(err).Msg("encode")
	}
}

func (a *api) decode(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	err := json.NewDecoder(req.Body).Decode(v)
	if err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *api) done(w http.ResponseWriter, req *http.Request, err error) {
	if err != nil {
		a.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) initialize(w http.ResponseWriter, req *http.Request) {
	a.done(w, req, a.c.Initialize())
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pan  *int `json:"pan"`
		Tilt *int `json:"tilt"`
	}
	if !a.decode(w, req, &body) {
		return
	}
	if body.Pan == nil || body.Tilt == nil {
		http.Error(w, "pan and tilt are required", http.StatusBadRequest)
		return
	}
	a.done(w, req, a.c.MovePosition(*body.Pan, *body.Tilt))
}

func (a *api) moveDegrees(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pan  *float64 `json:"pan"`
		Tilt *float64 `json:"tilt"`
	}
	if !a.decode(w, req, &body) {
		return
	}
	if body.Pan == nil || body.Tilt == nil {
		http.Error(w, "pan and tilt are required", http.StatusBadRequest)
		return
	}
	a.done(w, req, a.c.MovePositionDegrees(*body.Pan, *body.Tilt))
}

func (a *api) park(w http.ResponseWriter, req *http.Request) {
	a.done(w, req, a.c.Park())
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	pos, err := a.c.CurrentPosition()
	if err != nil {
		a.fail(w, req, err)
		return
	}
	a.reply(w, position{Pan: pos[0], Tilt: pos[1]})
}

func (a *api) positionDegrees(w http.ResponseWriter, req *http.Request) {
	pos, err := a.c.CurrentPositionDegrees()
	if err != nil {
		a.fail(w, req, err)
		return
	}
	a.reply(w, positionDegrees{Pan: pos[0], Tilt: pos[1]})
}

func (a *api) parameters(w http.ResponseWriter, req *http.Request) {
	p, err := a.c.Parameters()
	if err != nil {
		a.fail(w, req, err)
		return
	}
	a.reply(w, p.Map())
}

func (a *api) command(w http.ResponseWriter, req *http.Request) {
	var body commandRequest
	if !a.decode(w, req, &body) {
		return
	}
	cmd := body.command()
	if err := cmd.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.done(w, req, a.c.SendCommand(cmd))
}

func (a *api) query(w http.ResponseWriter, req *http.Request) {
	var body commandRequest
	if !a.decode(w, req, &body) {
		return
	}
	cmd := body.command()
	if err := cmd.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	val, err := a.c.SendQuery(cmd)
	if err != nil {
		a.fail(w, req, err)
		return
	}
	a.reply(w, map[string]string{"value": val})
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	a.reply(w, map[string]bool{"initialized": a.c.Initialized()})
}
