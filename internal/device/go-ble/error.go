package goble

import (
	"fmt"
	"strings"

	"github.com/srg/ironbot/internal/device"
)

// errorRule maps go-ble/CoreBluetooth/BlueZ messages containing any of its fragments to a sentinel
type errorRule struct {
	sentinel  error
	fragments []string
}

// Checked in order; the first match wins.
var errorRules = []errorRule{
	{device.ErrBluetoothOff, []string{"have=4 want=5", "bluetooth is turned off", "powered off"}},
	{device.ErrAlreadyConnected, []string{"device already connected"}},
	{device.ErrNotConnected, []string{"device not connected", "disconnected"}},
	{device.ErrUnreachable, []string{"can't dial", "no such device", "connection timed out"}},
}

// NormalizeError wraps backend errors with the matching device sentinel, keeping the original message.
// Unknown errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return fmt.Errorf("%w: %v", rule.sentinel, err)
			}
		}
	}
	return err
}
