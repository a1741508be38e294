package ptu

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Command codes used by the driver.
const (
	CodePanPosition    = "PP"
	CodeTiltPosition   = "TP"
	CodePanResolution  = "PR"
	CodeTiltResolution = "TR"
	CodeAwait          = "A"
	CodeReset          = "R"
	CodeResetPan       = "RP"
	CodeResetTilt      = "RT"
	CodeDiagnostics    = "O"
	CodeEchoOff        = "ED"
	CodeTerse          = "FT"
)

// Command is an operation code with an optional signed integer argument.
type Command struct {
	Code   string
	Arg    int
	HasArg bool
}

// Cmd returns a command without argument.
func Cmd(code string) Command { return Command{Code: code} }

// CmdArg returns a command with argument n.
func CmdArg(code string, n int) Command { return Command{Code: code, Arg: n, HasArg: true} }

var (
	rxCode    = regexp.MustCompile(`^[A-Z]{1,3}$`)
	rxCommand = regexp.MustCompile(`^([A-Z]{1,3})([+-]?[0-9]+)?$`)
)

// Validate checks that the code is one to three upper-case letters.
func (c Command) Validate() error {
	if !rxCode.MatchString(c.Code) {
		return errors.New("invalid command code: " + strconv.Quote(c.Code))
	}
	return nil
}

// String renders the command without terminator, e.g. "PP-14000".
func (c Command) String() string {
	if !c.HasArg {
		return c.Code
	}
	return c.Code + strconv.Itoa(c.Arg)
}

// Bytes renders the command as sent on the wire.
func (c Command) Bytes() []byte {
	return []byte(c.String() + "\r")
}

// IsReset reports whether the device answers c with axis limit markers.
func (c Command) IsReset() bool {
	switch c.Code {
	case CodeReset, CodeResetPan, CodeResetTilt:
		return true
	}
	return false
}

// ParseCommand parses a single command line as the device would, e.g.
// "pp -4002\r". Spaces are ignored and letters are upper-cased.
func ParseCommand(line string) (Command, error) {
	s := strings.Replace(line, " ", "", -1)
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	m := rxCommand.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return Command{}, errors.New("invalid or unhandled line: " + strconv.Quote(s))
	}
	c := Command{Code: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Command{}, err
		}
		c.Arg = n
		c.HasArg = true
	}
	return c, nil
}
