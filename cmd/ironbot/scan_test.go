package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/devicefactory"
	"github.com/srg/ironbot/internal/testutils"
	"github.com/srg/ironbot/internal/testutils/mocks"
	"github.com/srg/ironbot/scanner"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
	origFactory func() (device.ScanningDevice, error)
}

func (suite *ScanTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()
	suite.origFactory = devicefactory.DeviceFactory

	dev := mocks.NewMockScanningDevice(
		testutils.CreateMockAdvertisement("Ironbot-01", TestRobot1, -70).
			WithServices("6e400001-b5a3-f393-e0a9-e50e24dcca9e").
			Build(),
		testutils.CreateMockAdvertisement("Ironbot-02", TestRobot2, -40).Build(),
		testutils.CreateMockAdvertisement("Speaker", "11:22:33:44:55:66", -30).Build(),
	)
	dev.On("Scan", mock.Anything, mock.Anything).Return(nil)
	devicefactory.DeviceFactory = func() (device.ScanningDevice, error) {
		return dev, nil
	}
}

func (suite *ScanTestSuite) TearDownTest() {
	devicefactory.DeviceFactory = suite.origFactory
}

func (suite *ScanTestSuite) scanOptions() *scanner.ScanOptions {
	return &scanner.ScanOptions{
		Duration:        20 * time.Millisecond,
		DuplicateFilter: true,
		NamePrefix:      "Ironbot",
	}
}

func (suite *ScanTestSuite) TestSingleScan_Table() {
	// GOAL: Verify the table lists matching robots, strongest signal first
	//
	// TEST SCENARIO: two robots and a speaker advertise → name prefix filter → robots sorted by RSSI

	s := scanner.NewScanner(suite.Logger)
	err := runSingleScan(suite.Context(), suite.Out, s, suite.scanOptions(), "table")
	suite.Require().NoError(err, "scan MUST succeed")

	out := suite.Out.String()
	suite.Assert().Contains(out, "NAME", "table header MUST be printed")
	suite.Assert().NotContains(out, "Speaker", "devices outside the name prefix MUST be hidden")
	suite.Assert().Contains(out, "6e400001", "service UUIDs MUST be shortened")

	second := strings.Index(out, TestRobot2)
	first := strings.Index(out, TestRobot1)
	suite.Require().True(first > 0 && second > 0, "both robots MUST be listed")
	suite.Assert().Less(second, first, "stronger robot MUST be listed first")
}

func (suite *ScanTestSuite) TestSingleScan_JSON() {
	s := scanner.NewScanner(suite.Logger)
	err := runSingleScan(suite.Context(), suite.Out, s, suite.scanOptions(), "json")
	suite.Require().NoError(err, "scan MUST succeed")

	var devices []scanner.Discovered
	suite.Require().NoError(json.Unmarshal([]byte(suite.Out.String()), &devices), "output MUST be valid JSON")
	suite.Require().Len(devices, 2)
	suite.Assert().Equal(TestRobot2, devices[0].Address)
	suite.Assert().Equal("Ironbot-01", devices[1].Name)
}

func (suite *ScanTestSuite) TestSingleScan_NothingFound() {
	opts := suite.scanOptions()
	opts.NamePrefix = "Nope"

	err := runSingleScan(suite.Context(), suite.Out, scanner.NewScanner(suite.Logger), opts, "table")
	suite.Require().NoError(err)
	suite.Assert().Contains(suite.Out.String(), "No Ironbots discovered")
}

func (suite *ScanTestSuite) TestWatchScan_PrintsNewDevices() {
	err := runWatchScan(suite.Context(), suite.Out, scanner.NewScanner(suite.Logger), suite.scanOptions())
	suite.Require().NoError(err, "watch MUST end without error when the duration elapses")

	out := suite.Out.String()
	suite.Assert().Contains(out, "+ "+TestRobot1+" Ironbot-01 -70 dBm")
	suite.Assert().Contains(out, "+ "+TestRobot2+" Ironbot-02 -40 dBm")
	suite.Assert().NotContains(out, "Speaker")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
