package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mastercactapus/ptu/head"
	"github.com/mastercactapus/ptu/link"
)

// kindSim runs against the built-in simulator instead of hardware.
const kindSim link.Kind = "sim"

type config struct {
	Listen string      `json:"listen"`
	Link   link.Config `json:"link"`
	Head   head.Config `json:"head"`

	// Timeout is the reply timeout for queries and quick commands.
	Timeout          time.Duration `json:"timeout"`
	ReconnectOnRetry bool          `json:"reconnectOnRetry"`

	// InitOnStart runs Initialize before serving requests.
	InitOnStart bool `json:"initOnStart"`
}

func defaultConfig() config {
	return config{
		Listen: ":9092",
		Link:   link.DefaultConfig(link.KindTCP, ""),
		Head:   head.DefaultConfig(),
	}
}

// loadConfig reads a JSON file over the defaults. Durations are given in
// nanoseconds.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
