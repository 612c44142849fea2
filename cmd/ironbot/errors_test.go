package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/ironbot/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "bluetooth off", err: fmt.Errorf("scan: %w", device.ErrBluetoothOff), want: "Bluetooth is turned off; enable it and try again"},
		{
			name: "write in flight",
			err:  &device.WriteError{Kind: device.KindWriteInFlight, Address: "AA:BB:CC:DD:EE:01"},
			want: "AA:BB:CC:DD:EE:01: robot is still processing the previous command",
		},
		{
			name: "disconnected during write",
			err:  &device.WriteError{Kind: device.KindDisconnectedDuringWrite},
			want: "robot disconnected before confirming the command",
		},
		{
			name: "transport cause is appended",
			err:  &device.WriteError{Kind: device.KindTransportWrite, Err: errors.New("att error")},
			want: "robot rejected the command (att error)",
		},
		{name: "not connected", err: device.ErrNotConnected, want: "robot is not connected"},
		{name: "connection lost", err: ErrConnectionLost, want: "connection lost; is the robot powered and in range?"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timed out: context deadline exceeded"},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err), "user message MUST match")
		})
	}
}
