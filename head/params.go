package head

import (
	"fmt"
	"strconv"

	"github.com/mastercactapus/ptu/ptu"
)

// ParameterSnapshot holds the supply voltage and the three temperature
// sensors of the head.
type ParameterSnapshot struct {
	Voltage  string  `json:"voltage"`
	TempHead float64 `json:"temp_head"`
	TempPan  float64 `json:"temp_pan"`
	TempTilt float64 `json:"temp_tilt"`
}

// Map returns the snapshot keyed like its JSON form.
func (p ParameterSnapshot) Map() map[string]interface{} {
	return map[string]interface{}{
		"voltage":   p.Voltage,
		"temp_head": p.TempHead,
		"temp_pan":  p.TempPan,
		"temp_tilt": p.TempTilt,
	}
}

func fahrenheitToCelsius(f float64) float64 {
	return roundTenth((f - 32) / 1.8)
}

// parseParameters reads the "voltage,head,pan,tilt" diagnostics payload.
func parseParameters(payload string, fahrenheit bool) (ParameterSnapshot, error) {
	fields, err := ptu.SplitFields(payload, 4)
	if err != nil {
		return ParameterSnapshot{}, fmt.Errorf("head: parameters %q: %w", payload, err)
	}
	var temps [3]float64
	for i := range temps {
		t, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return ParameterSnapshot{}, fmt.Errorf("head: parameters %q: %w", payload, err)
		}
		if fahrenheit {
			t = fahrenheitToCelsius(t)
		}
		temps[i] = t
	}
	return ParameterSnapshot{
		Voltage:  fields[0],
		TempHead: temps[0],
		TempPan:  temps[1],
		TempTilt: temps[2],
	}, nil
}

// Parameters queries the supply voltage and temperatures. It does not
// require initialization.
func (h *Head) Parameters() (ParameterSnapshot, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if err := h.usable(); err != nil {
		return ParameterSnapshot{}, err
	}
	val, err := h.ch.SendQuery(ptu.Cmd(ptu.CodeDiagnostics))
	if err != nil {
		return ParameterSnapshot{}, h.check(err)
	}
	return parseParameters(val, h.cfg.FahrenheitTemps)
}
