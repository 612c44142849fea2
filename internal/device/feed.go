package device

import "github.com/srg/ironbot/internal/ringchan"

// StateEvent is a single state transition delivered through a StateFeed
type StateEvent struct {
	Address string
	State   ConnectionState
}

// StateFeed is an Observer that queues transitions on a channel its owner drains.
// Delivery never blocks the session: when the owner falls behind, the oldest events are dropped.
// After Close further transitions are discarded, so a session may outlive the feed's consumer.
type StateFeed struct {
	events *ringchan.RingChannel[StateEvent]
}

// NewStateFeed creates a feed buffering up to capacity events.
func NewStateFeed(capacity int) *StateFeed {
	return &StateFeed{events: ringchan.New[StateEvent](capacity)}
}

func (f *StateFeed) OnStateChanged(address string, state ConnectionState) {
	f.events.Send(StateEvent{Address: address, State: state})
}

// C returns the channel of queued events. It is closed by Close.
func (f *StateFeed) C() <-chan StateEvent {
	return f.events.C()
}

// Close stops delivery and closes the channel.
func (f *StateFeed) Close() {
	f.events.Close()
}

// Dropped returns how many events were discarded because the owner fell behind.
func (f *StateFeed) Dropped() int64 {
	return f.events.GetMetrics().Overwritten
}
