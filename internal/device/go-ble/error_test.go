package goble

import (
	"errors"
	"testing"

	"github.com/srg/ironbot/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "darwin powered off", in: errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), want: device.ErrBluetoothOff},
		{name: "bluetooth off", in: errors.New("Bluetooth is turned off"), want: device.ErrBluetoothOff},
		{name: "not connected", in: errors.New("device not connected"), want: device.ErrNotConnected},
		{name: "disconnected", in: errors.New("peripheral disconnected"), want: device.ErrNotConnected},
		{name: "already connected", in: errors.New("device already connected"), want: device.ErrAlreadyConnected},
		{name: "hci adapter missing", in: errors.New("can't init hci: no such device"), want: device.ErrUnreachable},
		{name: "dial timeout", in: errors.New("can't dial: connection timed out"), want: device.ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.in.Error(), "original message MUST be preserved")
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		in := errors.New("att: insufficient authentication")
		assert.Same(t, in, NormalizeError(in))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		address string
		valid   bool
	}{
		{"AA:BB:CC:DD:EE:FF", true},
		{"aa-bb-cc-dd-ee-ff", true},
		{"D5A3E8C4-1F2B-4A6C-9E7D-0B1C2D3E4F5A", true},
		{"AA:BB:CC:DD:EE", false},
		{"AA:BB:CC:DD:EE:GG", false},
		{"AABBCCDDEEFF", false},
		{"D5A3E8C4_1F2B-4A6C-9E7D-0B1C2D3E4F5A", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidAddress(tt.address))
		})
	}
}
