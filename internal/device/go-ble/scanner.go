package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/ironbot/internal/device"
)

// bleScanner wraps ble.Device to implement device.ScanningDevice
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	if err := s.dev.Scan(ctx, allowDup, bleHandler); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// NewScanner creates a device.ScanningDevice backed by the shared BLE device.
func NewScanner() (device.ScanningDevice, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedDevice == nil {
		dev, err := DeviceFactory()
		if err != nil {
			return nil, NormalizeError(err)
		}
		sharedDevice = dev
	}
	return &bleScanner{dev: sharedDevice}, nil
}
