package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/registry"
	"github.com/srg/ironbot/internal/testutils"
	"github.com/srg/ironbot/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	botA = "AA:BB:CC:DD:EE:01"
	botB = "AA:BB:CC:DD:EE:02"
	botC = "AA:BB:CC:DD:EE:03"
)

type RegistryTestSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	captures   map[string]*testutils.LinkCapture
	transports map[string]*mocks.MockTransport
	registry   *registry.Registry
	readEP     *testutils.Endpoint
	writeEP    *testutils.Endpoint
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.readEP, suite.writeEP = testutils.UARTEndpoints()
	suite.captures = make(map[string]*testutils.LinkCapture)
	suite.transports = make(map[string]*mocks.MockTransport)
	for _, addr := range []string{botA, botB, botC} {
		t := mocks.NewHealthyTransport()
		suite.transports[addr] = t
		suite.captures[addr] = testutils.NewLinkCapture(t)
	}

	dial := func(address string, events device.TransportEvents) (device.Transport, error) {
		return suite.captures[address].Dial(address, events)
	}
	suite.registry = registry.New(dial, registry.Options{Logger: suite.helper.Logger})
}

// connect brings address up with both endpoints discovered and returns its link events
func (suite *RegistryTestSuite) connect(address string) device.TransportEvents {
	suite.Require().NoError(suite.registry.Connect(context.Background(), address))
	events := suite.captures[address].Last()
	events.LinkStateChanged(true)
	events.EndpointsDiscovered([]device.Endpoint{suite.readEP, suite.writeEP}, nil)
	return events
}

// autoReply makes every write on address report result asynchronously
func (suite *RegistryTestSuite) autoReply(address string, result error) {
	capture := suite.captures[address]
	suite.transports[address].On("Write", suite.writeEP, mock.Anything).
		Run(func(mock.Arguments) { go capture.Last().WriteResult(result) }).
		Return(nil)
}

func nextEvent(suite *RegistryTestSuite, feed *device.StateFeed) device.StateEvent {
	select {
	case ev := <-feed.C():
		return ev
	case <-time.After(time.Second):
		suite.FailNow("timed out waiting for state event")
		return device.StateEvent{}
	}
}

func (suite *RegistryTestSuite) TestAddKeepsOneSessionPerAddress() {
	b := suite.registry.Add(botB, "Ironbot-B")
	a := suite.registry.Add(botA, "")
	again := suite.registry.Add(botB, "renamed")

	suite.Same(b, again, "second Add MUST return the existing session")
	suite.Equal("Ironbot-B", again.Name())
	suite.Equal([]*device.Session{b, a}, suite.registry.Sessions(), "sessions MUST keep insertion order")

	got, ok := suite.registry.Get(botA)
	suite.True(ok)
	suite.Same(a, got)
}

func (suite *RegistryTestSuite) TestStateChangesReachSubscribers() {
	// GOAL: Verify every subscribed feed sees each session transition
	//
	// TEST SCENARIO: Two feeds → connect A → both get Connecting, Connected → unsubscribed feed gets nothing more

	feed := suite.registry.Subscribe(8)
	other := suite.registry.Subscribe(8)

	events := suite.connect(botA)

	for _, f := range []*device.StateFeed{feed, other} {
		suite.Equal(device.StateEvent{Address: botA, State: device.Connecting}, nextEvent(suite, f))
		suite.Equal(device.StateEvent{Address: botA, State: device.Connected}, nextEvent(suite, f))
	}
	suite.Equal(map[string]device.ConnectionState{botA: device.Connected}, suite.registry.States())

	suite.registry.Unsubscribe(other)
	events.LinkStateChanged(false)

	suite.Equal(device.StateEvent{Address: botA, State: device.Disconnected}, nextEvent(suite, feed))
	_, open := <-other.C()
	suite.False(open, "unsubscribed feed MUST be closed")
}

func (suite *RegistryTestSuite) TestSend() {
	events := suite.connect(botA)
	suite.transports[botA].On("Write", suite.writeEP, []byte{0x01, 0x02, 0x03}).Return(nil).Once()

	outcome, done := device.AwaitOutcome()
	suite.registry.Send(botA, []byte{0x01, 0x02, 0x03}, outcome)
	events.WriteResult(nil)
	suite.NoError(<-done)

	unknown, unknownDone := device.AwaitOutcome()
	suite.registry.Send(botC, []byte{0x01}, unknown)
	suite.ErrorIs(<-unknownDone, device.ErrNotConnected, "unknown address MUST be rejected")
}

func (suite *RegistryTestSuite) TestBroadcastReportsEveryDevice() {
	// GOAL: Verify per-device results and a single end notification
	//
	// TEST SCENARIO: A succeeds, B fails, C registered but disconnected → success A, failure B, one OnEnd, no OnAllFailed

	evA := suite.connect(botA)
	evB := suite.connect(botB)
	suite.registry.Add(botC, "")
	suite.transports[botA].On("Write", suite.writeEP, []byte("go")).Return(nil).Once()
	suite.transports[botB].On("Write", suite.writeEP, []byte("go")).Return(nil).Once()

	var (
		mu        sync.Mutex
		successes []string
		failures  = map[string]error{}
		allFailed int
		ends      int
	)
	suite.registry.Broadcast([]byte("go"), registry.BroadcastHandler{
		OnSuccess: func(address string) {
			mu.Lock()
			defer mu.Unlock()
			successes = append(successes, address)
		},
		OnFailure: func(address string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures[address] = err
		},
		OnAllFailed: func() { allFailed++ },
		OnEnd:       func() { ends++ },
	})

	suite.Zero(ends, "OnEnd MUST wait for every result")
	evA.WriteResult(nil)
	evB.WriteResult(errors.New("gatt error"))

	suite.Equal([]string{botA}, successes)
	suite.Require().Contains(failures, botB)
	suite.ErrorIs(failures[botB], device.ErrTransportWrite)
	suite.NotContains(failures, botC, "disconnected devices MUST NOT be targeted")
	suite.Zero(allFailed)
	suite.Equal(1, ends)
}

func (suite *RegistryTestSuite) TestBroadcastAllFailed() {
	evA := suite.connect(botA)
	evB := suite.connect(botB)
	suite.transports[botA].On("Write", suite.writeEP, mock.Anything).Return(nil).Once()
	suite.transports[botB].On("Write", suite.writeEP, mock.Anything).Return(nil).Once()

	var order []string
	suite.registry.Broadcast([]byte{0x01}, registry.BroadcastHandler{
		OnAllFailed: func() { order = append(order, "all-failed") },
		OnEnd:       func() { order = append(order, "end") },
	})
	evA.LinkStateChanged(false)
	evB.WriteResult(errors.New("timeout"))

	suite.Equal([]string{"all-failed", "end"}, order)
}

func (suite *RegistryTestSuite) TestBroadcastWithoutConnectedDevices() {
	suite.registry.Add(botA, "")

	var order []string
	suite.registry.Broadcast([]byte{0x01}, registry.BroadcastHandler{
		OnSuccess:   func(string) { order = append(order, "success") },
		OnAllFailed: func() { order = append(order, "all-failed") },
		OnEnd:       func() { order = append(order, "end") },
	})
	suite.Equal([]string{"all-failed", "end"}, order)

	results, err := suite.registry.BroadcastWait(context.Background(), []byte{0x01})
	suite.ErrorIs(err, registry.ErrNoConnectedDevices)
	suite.Empty(results)
}

func (suite *RegistryTestSuite) TestBroadcastWait() {
	suite.connect(botA)
	suite.connect(botB)
	suite.autoReply(botA, nil)
	suite.autoReply(botB, errors.New("write not permitted"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := suite.registry.BroadcastWait(ctx, []byte{0x10, 0x20})

	suite.Require().NoError(err)
	suite.Require().Len(results, 2)
	suite.NoError(results[botA])
	suite.ErrorIs(results[botB], device.ErrTransportWrite)
}

func (suite *RegistryTestSuite) TestBroadcastWaitHonoursContext() {
	// GOAL: Verify the caller-side bound on a write the transport never answers
	//
	// TEST SCENARIO: A answers, B never does → deadline exceeded with A's result only

	suite.connect(botA)
	suite.connect(botB)
	suite.autoReply(botA, nil)
	suite.transports[botB].On("Write", suite.writeEP, mock.Anything).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	results, err := suite.registry.BroadcastWait(ctx, []byte{0x10})

	suite.ErrorIs(err, context.DeadlineExceeded)
	suite.Equal(map[string]error{botA: nil}, results)
}

func (suite *RegistryTestSuite) TestDisconnect() {
	suite.connect(botA)

	suite.NoError(suite.registry.Disconnect(botA))
	suite.transports[botA].AssertCalled(suite.T(), "Disconnect")
	suite.Error(suite.registry.Disconnect(botC), "unknown address MUST be reported")
}

func (suite *RegistryTestSuite) TestRemove() {
	suite.connect(botA)

	suite.True(suite.registry.Remove(botA))
	suite.False(suite.registry.Remove(botA))
	_, ok := suite.registry.Get(botA)
	suite.False(ok)
	suite.transports[botA].AssertCalled(suite.T(), "Disconnect")
}

func (suite *RegistryTestSuite) TestClose() {
	// GOAL: Verify Close releases every session and fails pending writes
	//
	// TEST SCENARIO: Pending write on A → Close → DisconnectedDuringWrite, feeds closed, registry empty, Connect refused

	suite.connect(botA)
	feed := suite.registry.Subscribe(8)
	suite.transports[botA].On("Write", suite.writeEP, mock.Anything).Return(nil).Once()
	outcome, done := device.AwaitOutcome()
	suite.registry.Send(botA, []byte{0x01}, outcome)

	suite.registry.Close()

	suite.ErrorIs(<-done, device.ErrDisconnectedDuringWrite)
	suite.Empty(suite.registry.Sessions())
	for range feed.C() {
	}
	suite.Error(suite.registry.Connect(context.Background(), botB))
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
