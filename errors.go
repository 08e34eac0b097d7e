package mfbcontrol

import (
	"errors"
	"fmt"
)

// ConnectionError reports a transport-level failure talking to the device,
// including timeouts and the unexpected end of the data stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command that the device rejected or that was malformed.
type CommandError struct {
	Command  string
	Response string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q rejected by device: %s", e.Command, e.Response)
}

func (e *CommandError) Unwrap() error { return e.Err }

// MalformedStreamError reports a data record that cannot be interpreted.
// It is fatal to the control loop: field layouts are never guessed.
type MalformedStreamError struct {
	Fields int
	Want   int
	Line   string
	Reason string
}

func (e *MalformedStreamError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed stream: %s in data line %q", e.Reason, e.Line)
	}
	if e.Want > 0 {
		return fmt.Sprintf("malformed stream: data row has %d fields, want %d", e.Fields, e.Want)
	}
	return fmt.Sprintf("malformed stream: cannot parse data line %q", e.Line)
}

// ConfigurationError reports an invalid construction parameter. It is raised
// before any device I/O happens.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Param, e.Reason)
}

// ErrNotArmed is returned when a stream is requested before acquisition is armed.
var ErrNotArmed = errors.New("link is not armed")

// ErrNotFinite is returned when a NaN or infinite value would reach the DAC.
var ErrNotFinite = errors.New("value is not finite")

// ErrNotConnected is returned by commands issued on a closed link.
var ErrNotConnected = errors.New("link is not connected")
