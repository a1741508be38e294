// Command ptud exposes a pan/tilt head over HTTP.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/mastercactapus/ptu/head"
	"github.com/mastercactapus/ptu/link"
	"github.com/mastercactapus/ptu/ptu"
	"github.com/mastercactapus/ptu/sim"
)

func main() {
	configFile := flag.String("config", "", "JSON config file. Flags override its values.")
	transport := flag.String("transport", "tcp", "Link type: tcp, serial, spjs or sim.")
	addr := flag.String("addr", "", "Device address: host[:port], serial device path, or SPJS websocket URL.")
	port := flag.String("port", "", "Serial port name on the SPJS bridge.")
	baud := flag.Int("baud", link.DefaultBaud, "Serial baud rate.")
	listen := flag.String("listen", ":9092", "Address to bind the HTTP server to.")
	slipRing := flag.Bool("slipring", true, "Head has a slip ring (continuous pan).")
	reset := flag.Bool("reset", true, "Reset both axes during initialization.")
	initOnStart := flag.Bool("init", false, "Initialize the head before serving.")
	verbose := flag.Bool("verbose", false, "Enable debug logging.")
	listPorts := flag.Bool("list-ports", false, "List local serial ports and exit.")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if *listPorts {
		ports, err := link.Ports()
		if err != nil {
			log.Fatal().Err(err).Msg("list ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Link.Kind = link.Kind(*transport)
		case "addr":
			cfg.Link.Address = *addr
		case "port":
			cfg.Link.Port = *port
		case "baud":
			cfg.Link.Baud = *baud
		case "listen":
			cfg.Listen = *listen
		case "slipring":
			cfg.Head.SlipRing = *slipRing
		case "reset":
			cfg.Head.Reset = *reset
		case "init":
			cfg.InitOnStart = *initOnStart
		}
	})
	cfg.Head.Logger = &log

	tr, err := openTransport(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open link")
	}

	conn := ptu.NewConn(tr, ptu.Config{
		Timeout:          cfg.Timeout,
		ReconnectOnRetry: cfg.ReconnectOnRetry,
		Logger:           &log,
	})
	h := head.New(conn, cfg.Head)
	defer h.Close()

	if cfg.InitOnStart {
		if err := h.Initialize(); err != nil {
			log.Error().Err(err).Msg("initialize")
		}
	}

	a := newAPI(h, log)

	log.Info().Str("listen", cfg.Listen).Str("link", string(cfg.Link.Kind)).Msg("serving")
	err = http.ListenAndServe(cfg.Listen, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("request")
		a.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

func openTransport(cfg config, log zerolog.Logger) (link.Transport, error) {
	var tr link.Transport
	if cfg.Link.Kind == kindSim {
		log.Warn().Msg("using simulated head")
		tr = sim.NewLink(sim.NewDevice(cfg.Head.SlipRing))
	} else {
		var err error
		tr, err = link.New(cfg.Link)
		if err != nil {
			return nil, err
		}
	}
	if sp, ok := tr.(*link.SPJS); ok {
		sp.SetLogger(log)
	}
	if err := tr.Open(); err != nil {
		return nil, err
	}
	return tr, nil
}
