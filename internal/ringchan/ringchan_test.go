package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_TrySendDoesNotDiscard(t *testing.T) {
	rc := New[string](1)
	require.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "full buffer MUST reject TrySend")

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok, "empty buffer MUST report no value")
	assert.Equal(t, int64(1), rc.GetMetrics().Processed)
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.True(t, rc.Closed())
	assert.NotPanics(t, func() {
		assert.False(t, rc.Send(1))
		assert.False(t, rc.TrySend(1))
	})

	_, ok := rc.Receive()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	// GOAL: Verify producers never block regardless of consumer speed
	//
	// TEST SCENARIO: 8 producers send 100 items each into capacity 4 with no consumer → all sends return, 4 items buffered

	rc := New[int](4)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, rc.Len())
	m := rc.GetMetrics()
	assert.Equal(t, int64(800), m.Written)
	assert.Equal(t, int64(796), m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
