package mocks

import (
	"context"

	"github.com/srg/ironbot/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport implements device.Transport for testing
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Open(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTransport) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) DiscoverEndpoints() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransport) EnableNotifications(ep device.Endpoint) error {
	args := m.Called(ep)
	return args.Error(0)
}

func (m *MockTransport) Write(ep device.Endpoint, data []byte) error {
	args := m.Called(ep, data)
	return args.Error(0)
}

// NewHealthyTransport returns a MockTransport on which every call succeeds.
// Write expectations are left to the test.
func NewHealthyTransport() *MockTransport {
	m := &MockTransport{}
	m.On("Open", mock.Anything).Return(nil).Maybe()
	m.On("Disconnect").Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	m.On("DiscoverEndpoints").Return(nil).Maybe()
	m.On("EnableNotifications", mock.Anything).Return(nil).Maybe()
	return m
}
