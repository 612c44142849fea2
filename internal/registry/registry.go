// Package registry keeps one Session per Ironbot and dispatches commands to one or all of them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Options configures a Registry
type Options struct {
	Rules  device.RuleTable
	Logger *logrus.Logger

	// OnData receives read-endpoint notifications of every session
	OnData func(address string, data []byte)
}

// BroadcastHandler receives the per-device results of a Broadcast. Any field may be nil.
type BroadcastHandler struct {
	OnSuccess   func(address string)
	OnFailure   func(address string, err error)
	OnAllFailed func()
	OnEnd       func()
}

// Registry owns the sessions of every known Ironbot, in the order they were added.
// It observes each session and fans state changes out to subscribed feeds.
type Registry struct {
	dial   device.Dialer
	rules  device.RuleTable
	logger *logrus.Logger
	onData func(address string, data []byte)

	mu       sync.RWMutex
	sessions *orderedmap.OrderedMap[string, *device.Session]
	closed   bool

	feedsMu sync.Mutex
	feeds   map[*device.StateFeed]struct{}
}

// New creates an empty registry whose sessions dial through dial.
func New(dial device.Dialer, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		dial:     dial,
		rules:    opts.Rules,
		logger:   logger,
		onData:   opts.OnData,
		sessions: orderedmap.New[string, *device.Session](),
		feeds:    make(map[*device.StateFeed]struct{}),
	}
}

// Add returns the session for address, creating it on first use.
func (r *Registry) Add(address, name string) *device.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions.Get(address); ok {
		return s
	}
	s := device.NewSession(address, r.dial, device.SessionOptions{
		Name:   name,
		Rules:  r.rules,
		Logger: r.logger,
		OnData: r.onData,
	})
	r.sessions.Set(address, s)

	r.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    s.Name(),
	}).Debug("Registered Ironbot")
	return s
}

// Get returns the session for address.
func (r *Registry) Get(address string) (*device.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions.Get(address)
}

// Remove disconnects and forgets address. Reports whether it was known.
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	s, ok := r.sessions.Delete(address)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release(s)
	return true
}

// Sessions returns every session in insertion order.
func (r *Registry) Sessions() []*device.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*device.Session, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	return list
}

// States returns the current state of every session.
func (r *Registry) States() map[string]device.ConnectionState {
	sessions := r.Sessions()
	states := make(map[string]device.ConnectionState, len(sessions))
	for _, s := range sessions {
		states[s.Address()] = s.State()
	}
	return states
}

// Connect registers address if needed and starts connecting it.
func (r *Registry) Connect(ctx context.Context, address string) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return fmt.Errorf("registry is closed")
	}
	return r.Add(address, "").Connect(ctx, r)
}

// Disconnect requests the link of address to be torn down.
func (r *Registry) Disconnect(address string) error {
	s, ok := r.Get(address)
	if !ok {
		return fmt.Errorf("unknown device %q", address)
	}
	return s.Disconnect()
}

// OnStateChanged implements device.Observer for the registry's sessions.
func (r *Registry) OnStateChanged(address string, state device.ConnectionState) {
	r.logger.WithFields(logrus.Fields{
		"address": address,
		"state":   state,
	}).Info("Ironbot state changed")

	r.feedsMu.Lock()
	defer r.feedsMu.Unlock()
	for feed := range r.feeds {
		feed.OnStateChanged(address, state)
	}
}

// Subscribe returns a feed of every state change, buffering up to capacity events.
func (r *Registry) Subscribe(capacity int) *device.StateFeed {
	feed := device.NewStateFeed(capacity)
	r.feedsMu.Lock()
	r.feeds[feed] = struct{}{}
	r.feedsMu.Unlock()
	return feed
}

// Unsubscribe stops delivery to feed and closes it.
func (r *Registry) Unsubscribe(feed *device.StateFeed) {
	r.feedsMu.Lock()
	delete(r.feeds, feed)
	r.feedsMu.Unlock()
	feed.Close()
}

// Send writes command to the session of address.
func (r *Registry) Send(address string, command []byte, outcome *device.Outcome) {
	s, ok := r.Get(address)
	if !ok {
		outcome.Fail(&device.WriteError{
			Kind:    device.KindNotConnected,
			Address: address,
			Payload: command,
			Reason:  "unknown device",
		})
		return
	}
	s.WriteData(command, outcome)
}

// Broadcast writes command to every connected session. Results arrive per device;
// OnEnd follows the last one. With no connected session OnAllFailed and OnEnd fire at once.
// A device whose write never completes holds back OnEnd until its link drops.
func (r *Registry) Broadcast(command []byte, h BroadcastHandler) {
	var targets []*device.Session
	for _, s := range r.Sessions() {
		if s.State() == device.Connected {
			targets = append(targets, s)
		}
	}

	if len(targets) == 0 {
		r.logger.Warn("Broadcast without connected Ironbots")
		if h.OnAllFailed != nil {
			h.OnAllFailed()
		}
		if h.OnEnd != nil {
			h.OnEnd()
		}
		return
	}

	var remaining, failed atomic.Int32
	remaining.Store(int32(len(targets)))
	for _, s := range targets {
		address := s.Address()
		s.WriteData(command, device.NewOutcome(func(err error) {
			if err == nil {
				if h.OnSuccess != nil {
					h.OnSuccess(address)
				}
			} else {
				failed.Add(1)
				r.logger.WithFields(logrus.Fields{
					"address": address,
					"error":   err,
				}).Warn("Broadcast write failed")
				if h.OnFailure != nil {
					h.OnFailure(address, err)
				}
			}

			if remaining.Add(-1) != 0 {
				return
			}
			if int(failed.Load()) == len(targets) && h.OnAllFailed != nil {
				h.OnAllFailed()
			}
			if h.OnEnd != nil {
				h.OnEnd()
			}
		}))
	}
}

// ErrNoConnectedDevices is returned by BroadcastWait when no session is connected
var ErrNoConnectedDevices = errors.New("no connected Ironbot")

// BroadcastWait broadcasts command and waits for every result or ctx.
// The map holds one entry per device that reported, nil meaning success.
func (r *Registry) BroadcastWait(ctx context.Context, command []byte) (map[string]error, error) {
	var (
		mu        sync.Mutex
		results   = make(map[string]error)
		noTargets bool
		done      = make(chan struct{})
	)
	r.Broadcast(command, BroadcastHandler{
		OnSuccess: func(address string) {
			mu.Lock()
			defer mu.Unlock()
			results[address] = nil
		},
		OnFailure: func(address string, err error) {
			mu.Lock()
			defer mu.Unlock()
			results[address] = err
		},
		OnAllFailed: func() {
			mu.Lock()
			defer mu.Unlock()
			noTargets = len(results) == 0
		},
		OnEnd: func() { close(done) },
	})

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return copyResults(results), ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if noTargets {
		return results, ErrNoConnectedDevices
	}
	return copyResults(results), nil
}

func copyResults(in map[string]error) map[string]error {
	out := make(map[string]error, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Close disconnects and destroys every session. Further Connect calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*device.Session, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		sessions = append(sessions, pair.Value)
	}
	r.sessions = orderedmap.New[string, *device.Session]()
	r.mu.Unlock()

	for _, s := range sessions {
		r.release(s)
	}

	r.feedsMu.Lock()
	feeds := r.feeds
	r.feeds = make(map[*device.StateFeed]struct{})
	r.feedsMu.Unlock()
	for feed := range feeds {
		feed.Close()
	}
}

func (r *Registry) release(s *device.Session) {
	if err := s.Disconnect(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": s.Address(),
			"error":   err,
		}).Warn("Failed to disconnect Ironbot")
	}
	s.Destroy()
}
