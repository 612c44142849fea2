package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/ironbot/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped before the robot was ready for commands.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoResult indicates the robot never confirmed a write within write_timeout.
	ErrNoResult = errors.New("no write confirmation")
)

// FormatUserError turns an error into a message for the terminal.
func FormatUserError(err error) string {
	var werr *device.WriteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.As(err, &werr):
		return formatWriteError(werr)
	case errors.Is(err, device.ErrUnreachable):
		return fmt.Sprintf("robot is not reachable (%v)", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v; is the robot powered and in range?", err)
	case errors.Is(err, ErrNoResult), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out: %v", err)
	default:
		return err.Error()
	}
}

func formatWriteError(err *device.WriteError) string {
	var msg string
	switch err.Kind {
	case device.KindValidation:
		msg = fmt.Sprintf("command must be 1 to %d bytes", device.MaxCommandLength)
	case device.KindNotConnected:
		msg = "robot is not connected"
	case device.KindWriteInFlight:
		msg = "robot is still processing the previous command"
	case device.KindTransportWrite:
		msg = "robot rejected the command"
	case device.KindDisconnectedDuringWrite:
		msg = "robot disconnected before confirming the command"
	default:
		return err.Error()
	}
	if err.Address != "" {
		msg = err.Address + ": " + msg
	}
	if err.Err != nil {
		msg += fmt.Sprintf(" (%v)", err.Err)
	}
	return msg
}
