package mocks

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockClient implements the subset of ble.Client used by the go-ble transport
type MockClient struct {
	mock.Mock
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) ClearSubscriptions() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

// MockLinkClient is a MockClient that also reports link loss through Disconnected
type MockLinkClient struct {
	MockClient
	Done chan struct{}
}

// NewMockLinkClient creates a client whose Disconnected channel is closed by Drop.
func NewMockLinkClient() *MockLinkClient {
	return &MockLinkClient{Done: make(chan struct{})}
}

func (m *MockLinkClient) Disconnected() <-chan struct{} {
	return m.Done
}

// Drop simulates the peripheral going away.
func (m *MockLinkClient) Drop() {
	close(m.Done)
}
