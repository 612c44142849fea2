package device

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// writeStrategy is implemented only by connectedWriter and disconnectedWriter.
type writeStrategy interface {
	write(data []byte, outcome *Outcome)
	writeSucceeded()
	writeFailed(cause error)
	stop()
	pending() bool
}

// Arbitrator serializes command writes against the current link: at most one write is
// in flight, and every caller's Outcome is resolved exactly once.
//
// A write that the transport never reports on stays pending until the link drops
// or the write endpoint changes; there is no timeout at this level.
type Arbitrator struct {
	address string
	logger  *logrus.Logger

	mu     sync.RWMutex
	active writeStrategy
}

// NewArbitrator creates an arbitrator in disconnected mode.
func NewArbitrator(address string, logger *logrus.Logger) *Arbitrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Arbitrator{
		address: address,
		logger:  logger,
		active:  disconnectedWriter{address: address},
	}
}

func (a *Arbitrator) current() writeStrategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Write submits data and registers outcome for its result.
func (a *Arbitrator) Write(data []byte, outcome *Outcome) {
	a.current().write(data, outcome)
}

// WriteSucceeded resolves the pending outcome, if any, with success.
func (a *Arbitrator) WriteSucceeded() {
	a.current().writeSucceeded()
}

// WriteFailed resolves the pending outcome, if any, with a transport write error.
func (a *Arbitrator) WriteFailed(cause error) {
	a.current().writeFailed(cause)
}

// Pending reports whether a write is currently awaiting its transport result.
func (a *Arbitrator) Pending() bool {
	return a.current().pending()
}

// Connected reports whether the arbitrator accepts writes.
func (a *Arbitrator) Connected() bool {
	_, ok := a.current().(*connectedWriter)
	return ok
}

// Activate switches to connected mode for transport and endpoint. The previously active
// mode is stopped first, failing its pending write with a disconnected error.
func (a *Arbitrator) Activate(transport Transport, endpoint Endpoint) {
	a.ActivateIf(nil, transport, endpoint)
}

// ActivateIf is Activate guarded by current, which is evaluated while no other mode
// change can run. It reports whether connected mode was installed.
func (a *Arbitrator) ActivateIf(current func() bool, transport Transport, endpoint Endpoint) bool {
	return a.swapIf(current, &connectedWriter{
		address:   a.address,
		transport: transport,
		endpoint:  endpoint,
		logger:    a.logger,
	})
}

// Deactivate switches to disconnected mode, failing any pending write.
func (a *Arbitrator) Deactivate() {
	a.swap(disconnectedWriter{address: a.address})
}

// swap installs next and stops the previous mode outside the lock, so an Outcome
// callback that immediately writes again cannot deadlock. A write racing the swap
// still holds the previous mode and is rejected or failed by its stop.
func (a *Arbitrator) swap(next writeStrategy) {
	a.swapIf(nil, next)
}

func (a *Arbitrator) swapIf(current func() bool, next writeStrategy) bool {
	a.mu.Lock()
	if current != nil && !current() {
		a.mu.Unlock()
		return false
	}
	prev := a.active
	a.active = next
	a.mu.Unlock()

	prev.stop()
	return true
}

// ----------------------------
// Connected mode
// ----------------------------

type connectedWriter struct {
	address string
	logger  *logrus.Logger

	mu          sync.Mutex
	transport   Transport
	endpoint    Endpoint
	inFlight    *Outcome
	lastPayload []byte
}

func (w *connectedWriter) write(data []byte, outcome *Outcome) {
	if len(data) == 0 || len(data) > MaxCommandLength {
		outcome.Fail(&WriteError{
			Kind:    KindValidation,
			Address: w.address,
			Payload: data,
			Reason:  "command must be between 1 and 20 bytes",
		})
		return
	}

	payload := append([]byte(nil), data...)

	w.mu.Lock()
	if w.transport == nil || w.endpoint == nil {
		w.mu.Unlock()
		outcome.Fail(&WriteError{
			Kind:    KindNotConnected,
			Address: w.address,
			Payload: payload,
			Reason:  "device may have disconnected",
		})
		return
	}
	if w.inFlight != nil {
		w.mu.Unlock()
		outcome.Fail(&WriteError{
			Kind:    KindWriteInFlight,
			Address: w.address,
			Payload: payload,
			Reason:  "previous command has not completed",
		})
		return
	}
	w.inFlight = outcome
	w.lastPayload = payload
	transport, endpoint := w.transport, w.endpoint
	w.mu.Unlock()

	if err := transport.Write(endpoint, payload); err != nil {
		w.logger.WithFields(logrus.Fields{
			"address": w.address,
			"error":   err,
		}).Warn("Transport rejected write")

		w.mu.Lock()
		if w.inFlight != outcome {
			// already resolved by stop or a racing result
			w.mu.Unlock()
			return
		}
		w.inFlight = nil
		w.mu.Unlock()

		outcome.Fail(&WriteError{
			Kind:    KindTransportWrite,
			Address: w.address,
			Payload: payload,
			Reason:  "write could not be submitted",
			Err:     err,
		})
	}
}

// take empties the pending slot and returns what it held.
func (w *connectedWriter) take() (*Outcome, []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.inFlight
	w.inFlight = nil
	return o, w.lastPayload
}

func (w *connectedWriter) writeSucceeded() {
	if o, _ := w.take(); o != nil {
		o.Succeed()
	}
}

func (w *connectedWriter) writeFailed(cause error) {
	o, payload := w.take()
	if o == nil {
		return
	}
	o.Fail(&WriteError{
		Kind:    KindTransportWrite,
		Address: w.address,
		Payload: payload,
		Reason:  "write failed",
		Err:     cause,
	})
}

func (w *connectedWriter) stop() {
	w.mu.Lock()
	w.transport = nil
	w.endpoint = nil
	o := w.inFlight
	payload := w.lastPayload
	w.inFlight = nil
	w.mu.Unlock()

	if o != nil {
		o.Fail(&WriteError{
			Kind:    KindDisconnectedDuringWrite,
			Address: w.address,
			Payload: payload,
			Reason:  "device disconnected",
		})
	}
}

func (w *connectedWriter) pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight != nil
}

// ----------------------------
// Disconnected mode
// ----------------------------

type disconnectedWriter struct {
	address string
}

func (w disconnectedWriter) write(data []byte, outcome *Outcome) {
	outcome.Fail(&WriteError{
		Kind:    KindNotConnected,
		Address: w.address,
		Payload: data,
		Reason:  "device already disconnected",
	})
}

func (disconnectedWriter) writeSucceeded()   {}
func (disconnectedWriter) writeFailed(error) {}
func (disconnectedWriter) stop()             {}
func (disconnectedWriter) pending() bool     { return false }
