package device

import "sync/atomic"

// Outcome is the one-shot completion handle a caller hands to a write.
// The first Succeed or Fail consumes it; later resolutions are ignored and
// the callback never runs twice. A nil error passed to the callback means success.
type Outcome struct {
	consumed atomic.Bool
	fn       func(err error)
}

// NewOutcome wraps fn as a single-resolution handle. fn may be nil.
func NewOutcome(fn func(err error)) *Outcome {
	return &Outcome{fn: fn}
}

// AwaitOutcome returns an Outcome whose result is delivered on the returned channel.
// The channel is buffered, so resolution never blocks the resolver.
func AwaitOutcome() (*Outcome, <-chan error) {
	ch := make(chan error, 1)
	return NewOutcome(func(err error) { ch <- err }), ch
}

// Succeed resolves the outcome with success. Returns false if it was already resolved.
func (o *Outcome) Succeed() bool {
	return o.resolve(nil)
}

// Fail resolves the outcome with err. Returns false if it was already resolved.
func (o *Outcome) Fail(err error) bool {
	return o.resolve(err)
}

// Resolved reports whether the outcome has been consumed.
func (o *Outcome) Resolved() bool {
	return o != nil && o.consumed.Load()
}

func (o *Outcome) resolve(err error) bool {
	if o == nil || !o.consumed.CompareAndSwap(false, true) {
		return false
	}
	if o.fn != nil {
		o.fn(err)
	}
	return true
}
