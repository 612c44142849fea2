package testutils

import (
	"errors"
	"sync"

	"github.com/srg/ironbot/internal/device"
)

// Endpoint is a static device.Endpoint
type Endpoint struct {
	service string
	uuid    string
}

// NewEndpoint creates an endpoint with normalized UUIDs.
func NewEndpoint(serviceUUID, uuid string) *Endpoint {
	return &Endpoint{
		service: device.NormalizeUUID(serviceUUID),
		uuid:    device.NormalizeUUID(uuid),
	}
}

func (e *Endpoint) UUID() string        { return e.uuid }
func (e *Endpoint) ServiceUUID() string { return e.service }

// UARTEndpoints returns the read and write endpoints of stock Ironbot firmware.
func UARTEndpoints() (read, write *Endpoint) {
	const svc = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	return NewEndpoint(svc, device.DefaultReadUUID), NewEndpoint(svc, device.DefaultWriteUUID)
}

// LinkCapture is a device.Dialer that hands out prepared transports and keeps the
// TransportEvents of every dial, so a test can play the transport's side of the link.
type LinkCapture struct {
	mu         sync.Mutex
	transports []device.Transport
	events     []device.TransportEvents
	dialErr    error
}

// NewLinkCapture returns transports in order, one per dial. A dial past the last one fails.
func NewLinkCapture(transports ...device.Transport) *LinkCapture {
	return &LinkCapture{transports: transports}
}

// FailWith makes every dial fail with err.
func (c *LinkCapture) FailWith(err error) *LinkCapture {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialErr = err
	return c
}

// Dial implements device.Dialer.
func (c *LinkCapture) Dial(_ string, events device.TransportEvents) (device.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	if len(c.events) >= len(c.transports) {
		return nil, errors.New("no transport prepared")
	}
	c.events = append(c.events, events)
	return c.transports[len(c.events)-1], nil
}

// Events returns the TransportEvents of the i-th successful dial.
func (c *LinkCapture) Events(i int) device.TransportEvents {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

// Last returns the TransportEvents of the most recent successful dial.
func (c *LinkCapture) Last() device.TransportEvents {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

// Dials returns the number of successful dials.
func (c *LinkCapture) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// StateRecorder is a device.Observer that keeps every transition.
type StateRecorder struct {
	mu     sync.Mutex
	states []device.ConnectionState
}

func (r *StateRecorder) OnStateChanged(_ string, state device.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

// States returns the recorded transitions in order.
func (r *StateRecorder) States() []device.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.ConnectionState(nil), r.states...)
}
