package device

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SessionOptions configures a Session
type SessionOptions struct {
	Name   string
	Rules  RuleTable // defaults to DefaultRules()
	Logger *logrus.Logger

	// OnData receives notifications from the read endpoint. It must not block.
	OnData func(address string, data []byte)
}

// Session owns the link to one Ironbot peripheral: it drives the transport, picks the
// read/write endpoints through the rule table, and routes writes to its Arbitrator.
//
// Transport events may arrive on any goroutine. Events from a transport the session
// has already let go of are ignored.
type Session struct {
	address string
	name    string
	rules   RuleTable
	dial    Dialer
	onData  func(address string, data []byte)
	logger  *logrus.Logger
	writer  *Arbitrator

	mu        sync.Mutex
	state     ConnectionState
	gen       uint64
	transport Transport
	readEP    Endpoint
	writeEP   Endpoint
	observer  Observer
	ready     chan struct{}
	readyDone bool
}

// NewSession creates a disconnected session for address.
func NewSession(address string, dial Dialer, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	return &Session{
		address: address,
		name:    opts.Name,
		rules:   rules,
		dial:    dial,
		onData:  opts.OnData,
		logger:  logger,
		writer:  NewArbitrator(address, logger),
		state:   Disconnected,
		ready:   make(chan struct{}),
	}
}

func (s *Session) Address() string {
	return s.address
}

// Name returns the display name, falling back to the address.
func (s *Session) Name() string {
	if s.name == "" {
		return s.address
	}
	return s.name
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoints returns the discovered read and write endpoints; both are nil unless connected.
func (s *Session) Endpoints() (read, write Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEP, s.writeEP
}

// Ready returns a channel closed once the write endpoint of the current connection
// attempt is active. A new channel is issued by every Connect.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Connect starts establishing the link. The observer is told about every subsequent
// transition until the link is lost or the session is destroyed.
// Completion is asynchronous: Connect returns once the transport has been opened.
func (s *Session) Connect(ctx context.Context, observer Observer) error {
	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		s.logger.WithField("address", s.address).Warn("Connection attempt while link is active")
		return ErrAlreadyConnected
	}
	s.observer = observer
	s.gen++
	gen := s.gen
	s.ready = make(chan struct{})
	s.readyDone = false
	s.mu.Unlock()

	if strings.TrimSpace(s.address) == "" {
		s.changeState(gen, Disconnected)
		return fmt.Errorf("%w: device address is empty", ErrUnreachable)
	}

	var (
		transport Transport
		err       error
	)
	if s.dial != nil {
		transport, err = s.dial(s.address, &linkEvents{session: s, gen: gen})
	}
	if err != nil || transport == nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Peripheral is not reachable")
		s.changeState(gen, Disconnected)
		if err == nil {
			return ErrUnreachable
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.transport != nil {
		// Connect raced with another Connect or Destroy
		s.mu.Unlock()
		_ = transport.Close()
		return ErrAlreadyConnected
	}
	s.transport = transport
	s.mu.Unlock()

	s.changeState(gen, Connecting)

	s.logger.WithField("address", s.address).Info("Connecting to Ironbot...")
	if err := transport.Open(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Failed to open link")
		s.linkLost(gen)
		return fmt.Errorf("failed to open link to %q: %w", s.address, err)
	}
	return nil
}

// Disconnect requests link teardown. The transition to Disconnected arrives through the
// transport's link-state notification.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	if transport == nil {
		s.logger.WithField("address", s.address).Debug("Disconnect called but no link is held")
		return nil
	}
	s.logger.WithField("address", s.address).Info("Disconnecting Ironbot...")
	return transport.Disconnect()
}

// WriteData forwards a command to the active write mode. The outcome is resolved
// once the transport reports the result, or immediately on rejection.
func (s *Session) WriteData(command []byte, outcome *Outcome) {
	s.writer.Write(command, outcome)
}

// WritePending reports whether a command is awaiting its transport result.
func (s *Session) WritePending() bool {
	return s.writer.Pending()
}

// Destroy drops the transport, endpoints and observer without touching the link.
// Any pending write is failed. Safe to call repeatedly.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.gen++
	s.readEP = nil
	s.writeEP = nil
	s.transport = nil
	s.observer = nil
	s.mu.Unlock()

	s.writer.Deactivate()
}

// changeState records state and notifies the observer if gen is still current.
func (s *Session) changeState(gen uint64, state ConnectionState) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	observer := s.observer
	s.mu.Unlock()

	s.notify(observer, state)
}

func (s *Session) notify(observer Observer, state ConnectionState) {
	s.logger.WithFields(logrus.Fields{
		"address": s.address,
		"state":   state,
	}).Debug("Connection state changed")

	if observer != nil {
		observer.OnStateChanged(s.address, state)
	}
}

func (s *Session) linkEstablished(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.transport == nil {
		s.mu.Unlock()
		return
	}
	transport := s.transport
	s.mu.Unlock()

	s.logger.WithField("address", s.address).Info("Ironbot connected")
	if err := transport.DiscoverEndpoints(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Failed to start endpoint discovery")
	}

	// Discovery may report the link lost before returning.
	s.mu.Lock()
	if s.gen != gen || s.transport != transport {
		s.mu.Unlock()
		s.logger.WithField("address", s.address).Debug("Link dropped during discovery")
		return
	}
	s.state = Connected
	observer := s.observer
	s.mu.Unlock()

	s.notify(observer, Connected)
}

func (s *Session) linkLost(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	// Events still queued for this attempt are stale from here on.
	s.gen++
	transport := s.transport
	observer := s.observer
	s.state = Disconnected
	s.transport = nil
	s.readEP = nil
	s.writeEP = nil
	s.observer = nil
	s.mu.Unlock()

	s.logger.WithField("address", s.address).Info("Ironbot disconnected")

	s.writer.Deactivate()

	if observer != nil {
		observer.OnStateChanged(s.address, Disconnected)
	}

	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": s.address,
				"error":   err,
			}).Warn("Failed to release transport")
		}
	}
}

func (s *Session) endpointsDiscovered(gen uint64, endpoints []Endpoint, err error) {
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Error("Endpoint discovery failed")
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.transport == nil {
		s.mu.Unlock()
		return
	}
	transport := s.transport
	s.mu.Unlock()

	for _, ep := range endpoints {
		fields := logrus.Fields{
			"address":      s.address,
			"service_uuid": ep.ServiceUUID(),
			"char_uuid":    ep.UUID(),
		}
		s.logger.WithFields(fields).Debug("Found characteristic")

		if s.rules.IsRead(ep.UUID()) {
			if err := transport.EnableNotifications(ep); err != nil {
				s.logger.WithFields(fields).WithField("error", err).Error("Failed to enable notifications")
			} else if !s.setEndpoint(gen, ep, false) {
				return
			} else {
				s.logger.WithFields(fields).Info("Read endpoint ready")
			}
		}
		if s.rules.IsWrite(ep.UUID()) {
			// Endpoint and writer mode change together; linkLost and Destroy bump gen
			// before deactivating.
			current := func() bool { return s.setEndpoint(gen, ep, true) }
			if !s.writer.ActivateIf(current, transport, ep) {
				return
			}
			s.logger.WithFields(fields).Info("Write endpoint ready")
		}
	}
}

// setEndpoint records a discovered endpoint; false if the link changed meanwhile.
func (s *Session) setEndpoint(gen uint64, ep Endpoint, write bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.transport == nil {
		return false
	}
	if write {
		s.writeEP = ep
		if !s.readyDone {
			s.readyDone = true
			close(s.ready)
		}
	} else {
		s.readEP = ep
	}
	return true
}

func (s *Session) writeResult(gen uint64, err error) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}

	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Warn("Write failed")
		s.writer.WriteFailed(err)
		return
	}
	s.writer.WriteSucceeded()
}

func (s *Session) dataReceived(gen uint64, ep Endpoint, data []byte) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"address":   s.address,
		"char_uuid": ep.UUID(),
		"data":      string(data),
	}).Debug("Received data from device")

	if s.onData != nil {
		s.onData(s.address, data)
	}
}

// linkEvents binds transport notifications to one connection attempt of a session.
type linkEvents struct {
	session *Session
	gen     uint64
}

func (e *linkEvents) LinkStateChanged(connected bool) {
	if connected {
		e.session.linkEstablished(e.gen)
		return
	}
	e.session.linkLost(e.gen)
}

func (e *linkEvents) EndpointsDiscovered(endpoints []Endpoint, err error) {
	e.session.endpointsDiscovered(e.gen, endpoints, err)
}

func (e *linkEvents) WriteResult(err error) {
	e.session.writeResult(e.gen, err)
}

func (e *linkEvents) DataReceived(ep Endpoint, data []byte) {
	e.session.dataReceived(e.gen, ep, data)
}
