package link

import (
	"fmt"
	"sort"

	bugst "go.bug.st/serial"
)

// Ports lists the serial ports present on this machine.
func Ports() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
