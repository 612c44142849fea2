package mocks

import (
	"context"

	"github.com/srg/ironbot/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockScanningDevice implements device.ScanningDevice for testing.
// Advertisements passed to NewMockScanningDevice are delivered before Scan blocks on ctx.
type MockScanningDevice struct {
	mock.Mock
	advertisements []device.Advertisement
}

func NewMockScanningDevice(advs ...device.Advertisement) *MockScanningDevice {
	return &MockScanningDevice{advertisements: advs}
}

func (m *MockScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup)
	if err := args.Error(0); err != nil {
		return err
	}
	for _, adv := range m.advertisements {
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}
