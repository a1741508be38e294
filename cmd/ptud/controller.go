package main

import (
	"github.com/mastercactapus/ptu/head"
	"github.com/mastercactapus/ptu/ptu"
)

// Controller is the head as seen by the HTTP API.
type Controller interface {
	Initialize() error
	MovePosition(pan, tilt int) error
	MovePositionDegrees(pan, tilt float64) error
	Park() error
	CurrentPosition() ([2]int, error)
	CurrentPositionDegrees() ([2]float64, error)
	Parameters() (head.ParameterSnapshot, error)
	SendCommand(cmd ptu.Command) error
	SendQuery(cmd ptu.Command) (string, error)
	Initialized() bool
	Updates() <-chan [2]int
}

var _ Controller = (*head.Head)(nil)
