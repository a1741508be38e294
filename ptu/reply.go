package ptu

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultTerminator ends every reply line from the device.
	DefaultTerminator = '\n'

	// FieldDelimiter separates the fields of multi-value query replies.
	FieldDelimiter = ","

	ackMarker = "*"
)

// axis limit markers emitted while an axis reset runs into its end stops
var rxLimitMarker = regexp.MustCompile(`!T|!P`)

// checkAck validates the reply to a command. A bare "*" is the only valid
// acknowledgement.
func checkAck(cmd Command, reply string) error {
	r := strings.TrimSpace(reply)
	if cmd.IsReset() {
		r = rxLimitMarker.ReplaceAllString(r, "")
	}
	if r == ackMarker {
		return nil
	}
	if strings.HasPrefix(r, "!") {
		return &ReplyError{Reply: reply, Reason: "device error"}
	}
	return &ReplyError{Reply: reply, Reason: "expected acknowledgement"}
}

// checkQuery validates a query reply ("* <value>") and returns the value.
func checkQuery(reply string) (string, error) {
	r := strings.TrimSpace(reply)
	if strings.HasPrefix(r, "!") {
		return "", &ReplyError{Reply: reply, Reason: "device error"}
	}
	if !strings.HasPrefix(r, ackMarker) {
		return "", &ReplyError{Reply: reply, Reason: "expected query reply"}
	}
	val := strings.TrimSpace(strings.TrimPrefix(r, ackMarker))
	if val == "" {
		return "", &ReplyError{Reply: reply, Reason: "empty query reply"}
	}
	return val, nil
}

// SplitFields splits a multi-value payload into exactly n positional fields,
// trimming whitespace around each one.
func SplitFields(payload string, n int) ([]string, error) {
	parts := strings.Split(payload, FieldDelimiter)
	if len(parts) != n {
		return nil, fmt.Errorf("invalid number of fields: got %d, want %d", len(parts), n)
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, fmt.Errorf("field %d is empty", i)
		}
	}
	return parts, nil
}
