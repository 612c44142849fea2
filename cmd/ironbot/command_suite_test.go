package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/devicefactory"
	"github.com/srg/ironbot/internal/testutils"
	"github.com/srg/ironbot/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test robot addresses
const (
	TestRobot1 = "AA:BB:CC:DD:EE:01"
	TestRobot2 = "AA:BB:CC:DD:EE:02"
	TestRobot3 = "AA:BB:CC:DD:EE:03"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of telemetry callbacks
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite routes every dial of the commands to a LoopbackDialer fleet.
// All cmd/ironbot test suites embed it.
type CommandTestSuite struct {
	suite.Suite

	Logger *logrus.Logger
	Robots *testutils.LoopbackDialer
	Out    *syncBuffer

	origDialer  func(time.Duration, *logrus.Logger) device.Dialer
	origNoColor bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.origDialer = devicefactory.NewDialer
	s.origNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.NewDialer = s.origDialer
	color.NoColor = s.origNoColor
}

func (s *CommandTestSuite) SetupTest() {
	s.Logger = testutils.NewTestHelper(s.T()).Logger
	s.Robots = testutils.NewLoopbackDialer()
	s.Out = &syncBuffer{}

	robots := s.Robots
	devicefactory.NewDialer = func(time.Duration, *logrus.Logger) device.Dialer {
		return robots.Dial
	}
}

// Config returns defaults with timeouts short enough for tests
func (s *CommandTestSuite) Config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

// WaitForOutput waits until the captured output contains text.
func (s *CommandTestSuite) WaitForOutput(text string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.Out.String(), text)
	}, 2*time.Second, 5*time.Millisecond, "output MUST eventually contain %q, got:\n%s", text, s.Out.String())
}

// Context returns a context canceled when the test ends
func (s *CommandTestSuite) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.T().Cleanup(cancel)
	return ctx
}
