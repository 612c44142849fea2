package testutils

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/srg/ironbot/internal/device"
)

// LoopbackDialer plays a fleet of healthy Ironbots: the link comes up on Open, discovery
// reports the UART endpoints, every write succeeds and is acknowledged on the read endpoint
// with "ack <hex>\n". Events are delivered from separate goroutines, like a real radio.
type LoopbackDialer struct {
	mu          sync.Mutex
	links       map[string]*Loopback
	writeErrs   map[string]error
	unreachable map[string]bool
	silent      map[string]bool
}

func NewLoopbackDialer() *LoopbackDialer {
	return &LoopbackDialer{
		links:       make(map[string]*Loopback),
		writeErrs:   make(map[string]error),
		unreachable: make(map[string]bool),
		silent:      make(map[string]bool),
	}
}

// FailWrites makes every write to address report err.
func (d *LoopbackDialer) FailWrites(address string, err error) *LoopbackDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErrs[address] = err
	return d
}

// Unreachable makes dialing address fail.
func (d *LoopbackDialer) Unreachable(address string) *LoopbackDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable[address] = true
	return d
}

// Silent makes writes to address never report a result.
func (d *LoopbackDialer) Silent(address string) *LoopbackDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[address] = true
	return d
}

// Dial implements device.Dialer.
func (d *LoopbackDialer) Dial(address string, events device.TransportEvents) (device.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unreachable[address] {
		return nil, errors.New("peripheral not found")
	}
	read, write := UARTEndpoints()
	lb := &Loopback{
		events:   events,
		read:     read,
		write:    write,
		writeErr: d.writeErrs[address],
		silent:   d.silent[address],
	}
	d.links[address] = lb
	return lb, nil
}

// Writes returns the payloads written to address through its latest link.
func (d *LoopbackDialer) Writes(address string) [][]byte {
	d.mu.Lock()
	lb := d.links[address]
	d.mu.Unlock()
	if lb == nil {
		return nil
	}
	return lb.Writes()
}

// Loopback is one simulated link
type Loopback struct {
	events      device.TransportEvents
	read, write *Endpoint
	writeErr    error
	silent      bool

	mu     sync.Mutex
	writes [][]byte
}

func (l *Loopback) Open(context.Context) error {
	go l.events.LinkStateChanged(true)
	return nil
}

func (l *Loopback) Disconnect() error {
	go l.events.LinkStateChanged(false)
	return nil
}

func (l *Loopback) Close() error { return nil }

func (l *Loopback) DiscoverEndpoints() error {
	go l.events.EndpointsDiscovered([]device.Endpoint{l.read, l.write}, nil)
	return nil
}

func (l *Loopback) EnableNotifications(device.Endpoint) error { return nil }

func (l *Loopback) Write(_ device.Endpoint, data []byte) error {
	l.mu.Lock()
	l.writes = append(l.writes, append([]byte(nil), data...))
	l.mu.Unlock()

	if l.silent {
		return nil
	}
	go func() {
		l.events.WriteResult(l.writeErr)
		if l.writeErr == nil {
			l.events.DataReceived(l.read, []byte("ack "+hex.EncodeToString(data)+"\n"))
		}
	}()
	return nil
}

// Writes returns every payload written so far.
func (l *Loopback) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

// Notify delivers data from the read endpoint of address's latest link. It reports
// false when address was never dialed.
func (d *LoopbackDialer) Notify(address string, data []byte) bool {
	d.mu.Lock()
	lb := d.links[address]
	d.mu.Unlock()
	if lb == nil {
		return false
	}
	lb.events.DataReceived(lb.read, append([]byte(nil), data...))
	return true
}

// Drop simulates the peripheral at address going out of range.
func (d *LoopbackDialer) Drop(address string) bool {
	d.mu.Lock()
	lb := d.links[address]
	d.mu.Unlock()
	if lb == nil {
		return false
	}
	lb.events.LinkStateChanged(false)
	return true
}
