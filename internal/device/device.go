package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxCommandLength is the largest payload accepted for a single write (ATT_MTU 23 minus the 3 byte header).
const MaxCommandLength = 20

// ConnectionState is the link state of a Session
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionFailure represents the specific kind of connection-level failure
type ConnectionFailure string

const (
	AlreadyConnected ConnectionFailure = "already_connected"
	Unreachable      ConnectionFailure = "unreachable"
	BluetoothOff     ConnectionFailure = "bluetooth_off"
)

// ConnectionError represents a problem establishing or tearing down a link
type ConnectionError struct {
	Failure ConnectionFailure
	Msg     string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Failure)
	}
	return fmt.Sprintf("%s: %s", e.Failure, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by Failure
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Failure == t.Failure
}

var (
	ErrAlreadyConnected = &ConnectionError{Failure: AlreadyConnected}
	ErrUnreachable      = &ConnectionError{Failure: Unreachable}
	ErrBluetoothOff     = &ConnectionError{Failure: BluetoothOff, Msg: "bluetooth is turned off"}
)

// ErrorKind classifies why a write attempt did not succeed
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotConnected
	KindWriteInFlight
	KindTransportWrite
	KindDisconnectedDuringWrite
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotConnected:
		return "not_connected"
	case KindWriteInFlight:
		return "write_in_flight"
	case KindTransportWrite:
		return "transport_write"
	case KindDisconnectedDuringWrite:
		return "disconnected_during_write"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// WriteError is the failure delivered to a caller's Outcome.
// Payload is the attempted command when known; for transport failures it is best-effort.
type WriteError struct {
	Kind    ErrorKind
	Address string
	Payload []byte
	Reason  string
	Err     error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Address != "" {
		fmt.Fprintf(&b, " [%s]", e.Address)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Payload) > 0 {
		fmt.Fprintf(&b, " (payload %q)", e.Payload)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches WriteError values by Kind, so errors.Is(err, ErrWriteInFlight) works for any address/payload
func (e *WriteError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*WriteError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel write errors, compared by kind
var (
	ErrValidation              = &WriteError{Kind: KindValidation}
	ErrNotConnected            = &WriteError{Kind: KindNotConnected}
	ErrWriteInFlight           = &WriteError{Kind: KindWriteInFlight}
	ErrTransportWrite          = &WriteError{Kind: KindTransportWrite}
	ErrDisconnectedDuringWrite = &WriteError{Kind: KindDisconnectedDuringWrite}
)

// IsWriteKind reports whether err is a WriteError of the given kind
func IsWriteKind(err error, kind ErrorKind) bool {
	var werr *WriteError
	if errors.As(err, &werr) {
		return werr.Kind == kind
	}
	return false
}

// Endpoint is a discovered characteristic on the peripheral
type Endpoint interface {
	UUID() string
	ServiceUUID() string
}

// Transport is the link layer a Session drives. Every method submits work and returns;
// results are delivered later through TransportEvents, possibly from another goroutine.
type Transport interface {
	Open(ctx context.Context) error
	Disconnect() error
	Close() error
	DiscoverEndpoints() error
	EnableNotifications(ep Endpoint) error
	Write(ep Endpoint, data []byte) error
}

// TransportEvents receives asynchronous link-layer notifications
type TransportEvents interface {
	LinkStateChanged(connected bool)
	EndpointsDiscovered(endpoints []Endpoint, err error)
	WriteResult(err error)
	DataReceived(ep Endpoint, data []byte)
}

// Dialer creates the transport for an address. A nil transport or an error means
// the peripheral is not reachable.
type Dialer func(address string, events TransportEvents) (Transport, error)

// Observer is told about every state transition of a Session
type Observer interface {
	OnStateChanged(address string, state ConnectionState)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(address string, state ConnectionState)

func (f ObserverFunc) OnStateChanged(address string, state ConnectionState) {
	f(address, state)
}

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

type Advertisement interface {
	LocalName() string
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}
