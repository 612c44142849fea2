package goble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt
	DefaultConnectTimeout = 30 * time.Second

	// writeQueueSize is the number of writes that may wait for the write loop
	writeQueueSize = 8
)

// Client is the subset of ble.Client the transport uses
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	ClearSubscriptions() error
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

var (
	sharedDevice ble.Device
	sharedMu     sync.Mutex
)

// Dial connects to address (can be overridden in tests).
// The underlying ble.Device is created once and reused, since opening the HCI
// device repeatedly fails on Linux.
var Dial = func(ctx context.Context, address string) (Client, error) {
	sharedMu.Lock()
	if sharedDevice == nil {
		dev, err := DeviceFactory()
		if err != nil {
			sharedMu.Unlock()
			return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
		}
		sharedDevice = dev
	}
	dev := sharedDevice
	sharedMu.Unlock()

	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Endpoint is a characteristic discovered through go-ble
type Endpoint struct {
	serviceUUID string
	uuid        string
	char        *ble.Characteristic
}

func (e *Endpoint) UUID() string        { return e.uuid }
func (e *Endpoint) ServiceUUID() string { return e.serviceUUID }

// Characteristic returns the underlying go-ble characteristic
func (e *Endpoint) Characteristic() *ble.Characteristic { return e.char }

type writeRequest struct {
	char *ble.Characteristic
	data []byte
}

// Transport implements device.Transport on top of go-ble.
// Dialing, discovery and writes run on background goroutines and report through the
// session's device.TransportEvents; the loss of the link is reported exactly once.
type Transport struct {
	address        string
	events         device.TransportEvents
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu       sync.Mutex
	client   Client
	opened   bool
	ctx      context.Context
	cancel   context.CancelFunc
	writes   chan writeRequest
	linkDown atomic.Bool
}

// NewTransport creates an unopened transport for address.
func NewTransport(address string, events device.TransportEvents, connectTimeout time.Duration, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Transport{
		address:        address,
		events:         events,
		logger:         logger,
		connectTimeout: connectTimeout,
	}
}

// Open dials the peripheral in the background. LinkStateChanged(true) follows a
// successful dial, LinkStateChanged(false) a failed one.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.opened {
		t.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	t.opened = true
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.writes = make(chan writeRequest, writeQueueSize)
	loopCtx := t.ctx
	t.mu.Unlock()

	groutine.Go(loopCtx, "ble-dial-"+t.address, func(context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
		stop := context.AfterFunc(loopCtx, cancel)
		defer stop()

		t.logger.WithField("address", t.address).Debug("Dialing BLE device...")
		client, err := Dial(dialCtx, t.address)
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"address": t.address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			t.reportLinkLost()
			return
		}

		t.mu.Lock()
		if loopCtx.Err() != nil {
			// closed while dialing
			t.mu.Unlock()
			_ = client.CancelConnection()
			t.reportLinkLost()
			return
		}
		t.client = client
		t.mu.Unlock()

		groutine.Go(loopCtx, "ble-writer-"+t.address, t.writeLoop)
		t.watchDisconnect(loopCtx, client)

		t.events.LinkStateChanged(true)
	})
	return nil
}

// watchDisconnect reports link loss when the client exposes a Disconnected channel.
func (t *Transport) watchDisconnect(ctx context.Context, client Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not expose Disconnected(), relying on explicit disconnect")
		return
	}
	groutine.Go(ctx, "ble-link-monitor-"+t.address, func(monitorCtx context.Context) {
		select {
		case <-dc.Disconnected():
			t.logger.WithField("address", t.address).Warn("Peripheral reported disconnection")
			t.reportLinkLost()
		case <-monitorCtx.Done():
		}
	})
}

func (t *Transport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-t.writes:
			client := t.currentClient()
			if client == nil {
				t.events.WriteResult(device.ErrNotConnected)
				continue
			}
			err := NormalizeError(client.WriteCharacteristic(req.char, req.data, false))
			if ctx.Err() != nil {
				// the link is gone; the session fails the pending write on its own
				return
			}
			t.events.WriteResult(err)
		}
	}
}

func (t *Transport) currentClient() Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// reportLinkLost stops background work and notifies the session once.
func (t *Transport) reportLinkLost() {
	if !t.linkDown.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.events.LinkStateChanged(false)
}

// Disconnect cancels the connection; the session learns about it through LinkStateChanged(false).
func (t *Transport) Disconnect() error {
	client := t.currentClient()
	if client == nil {
		t.reportLinkLost()
		return nil
	}

	err := NormalizeError(client.CancelConnection())
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": t.address,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
	}
	t.reportLinkLost()
	return err
}

// Close releases the client. It does not report link loss.
func (t *Transport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.ClearSubscriptions(); err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": t.address,
			"error":   err,
		}).Debug("Failed to clear subscriptions on close")
	}
	return nil
}

// DiscoverEndpoints discovers the profile in the background and reports every characteristic.
func (t *Transport) DiscoverEndpoints() error {
	client := t.currentClient()
	if client == nil {
		return device.ErrNotConnected
	}

	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	groutine.Go(ctx, "ble-discovery-"+t.address, func(context.Context) {
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			t.events.EndpointsDiscovered(nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err)))
			return
		}
		t.events.EndpointsDiscovered(endpointsFromProfile(profile), nil)
	})
	return nil
}

// endpointsFromProfile flattens a profile into endpoints sorted by service and characteristic UUID.
func endpointsFromProfile(profile *ble.Profile) []device.Endpoint {
	if profile == nil {
		return nil
	}
	var eps []*Endpoint
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		for _, char := range svc.Characteristics {
			eps = append(eps, &Endpoint{
				serviceUUID: svcUUID,
				uuid:        device.NormalizeUUID(char.UUID.String()),
				char:        char,
			})
		}
	}
	sort.SliceStable(eps, func(i, j int) bool {
		if eps[i].serviceUUID != eps[j].serviceUUID {
			return eps[i].serviceUUID < eps[j].serviceUUID
		}
		return eps[i].uuid < eps[j].uuid
	})

	result := make([]device.Endpoint, len(eps))
	for i, ep := range eps {
		result[i] = ep
	}
	return result
}

// EnableNotifications subscribes to ep; notifications arrive as DataReceived.
func (t *Transport) EnableNotifications(ep device.Endpoint) error {
	bep, err := t.endpoint(ep)
	if err != nil {
		return err
	}
	client := t.currentClient()
	if client == nil {
		return device.ErrNotConnected
	}

	return NormalizeError(client.Subscribe(bep.char, false, func(data []byte) {
		buf := append([]byte(nil), data...)
		t.events.DataReceived(bep, buf)
	}))
}

// Write queues data for ep. The result arrives as WriteResult.
func (t *Transport) Write(ep device.Endpoint, data []byte) error {
	bep, err := t.endpoint(ep)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || t.ctx == nil || t.ctx.Err() != nil {
		return device.ErrNotConnected
	}

	select {
	case t.writes <- writeRequest{char: bep.char, data: data}:
		return nil
	default:
		return fmt.Errorf("write queue full (%d pending)", writeQueueSize)
	}
}

func (t *Transport) endpoint(ep device.Endpoint) (*Endpoint, error) {
	bep, ok := ep.(*Endpoint)
	if !ok || bep == nil || bep.char == nil {
		return nil, fmt.Errorf("endpoint %v was not discovered by this transport", ep)
	}
	return bep, nil
}

// NewDialer returns a device.Dialer creating go-ble transports.
func NewDialer(connectTimeout time.Duration, logger *logrus.Logger) device.Dialer {
	return func(address string, events device.TransportEvents) (device.Transport, error) {
		if !ValidAddress(address) {
			return nil, fmt.Errorf("invalid device address %q", address)
		}
		return NewTransport(address, events, connectTimeout, logger), nil
	}
}
