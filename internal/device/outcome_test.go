package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_FirstResolutionWins(t *testing.T) {
	tests := []struct {
		name    string
		first   func(o *Outcome) bool
		second  func(o *Outcome) bool
		wantErr bool
	}{
		{
			name:   "succeed then fail",
			first:  (*Outcome).Succeed,
			second: func(o *Outcome) bool { return o.Fail(errors.New("late")) },
		},
		{
			name:    "fail then succeed",
			first:   func(o *Outcome) bool { return o.Fail(errors.New("boom")) },
			second:  (*Outcome).Succeed,
			wantErr: true,
		},
		{
			name:    "fail twice",
			first:   func(o *Outcome) bool { return o.Fail(errors.New("boom")) },
			second:  func(o *Outcome) bool { return o.Fail(errors.New("again")) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				calls int
				got   error
			)
			o := NewOutcome(func(err error) {
				calls++
				got = err
			})

			assert.False(t, o.Resolved())
			assert.True(t, tt.first(o), "first resolution MUST be accepted")
			assert.False(t, tt.second(o), "second resolution MUST be rejected")
			assert.True(t, o.Resolved())
			assert.Equal(t, 1, calls, "callback MUST run exactly once")
			if tt.wantErr {
				assert.Error(t, got)
			} else {
				assert.NoError(t, got)
			}
		})
	}
}

func TestOutcome_ConcurrentResolution(t *testing.T) {
	// GOAL: Verify racing resolvers cannot double-deliver
	//
	// TEST SCENARIO: 64 goroutines race Succeed/Fail → callback runs once, exactly one resolver wins

	var calls, wins atomic.Int32
	o := NewOutcome(func(error) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = o.Succeed()
			} else {
				ok = o.Fail(errors.New("boom"))
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "callback MUST run exactly once")
	assert.Equal(t, int32(1), wins.Load(), "exactly one resolver MUST win")
}

func TestOutcome_NilSafety(t *testing.T) {
	var o *Outcome
	assert.False(t, o.Succeed())
	assert.False(t, o.Fail(errors.New("x")))
	assert.False(t, o.Resolved())

	assert.True(t, NewOutcome(nil).Succeed(), "outcome without callback MUST still be consumable")
}

func TestAwaitOutcome(t *testing.T) {
	o, done := AwaitOutcome()
	require.True(t, o.Fail(ErrNotConnected))
	require.False(t, o.Succeed())

	err := <-done
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, done, "only one result MUST be delivered")
}
