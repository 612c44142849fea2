package devicefactory

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/device/go-ble"
)

// DeviceFactory creates device.ScanningDevice instances for BLE scanning operations.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func() (device.ScanningDevice, error) {
	return goble.NewScanner()
}

// NewDialer returns the device.Dialer sessions use to reach peripherals.
// This is a variable so that it can be overridden in tests.
var NewDialer = func(connectTimeout time.Duration, logger *logrus.Logger) device.Dialer {
	return goble.NewDialer(connectTimeout, logger)
}
