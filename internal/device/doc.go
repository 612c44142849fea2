// Package device manages the Bluetooth Low Energy link to a single Ironbot.
//
// A Session drives a Transport through connect, endpoint discovery and teardown, and
// classifies discovered characteristics with a RuleTable into the read endpoint
// (telemetry notifications) and the write endpoint (commands). Commands go through an
// Arbitrator that keeps at most one write in flight and resolves every caller's
// Outcome exactly once, whether the write succeeds, fails, or the link drops.
//
// Transports report asynchronously through TransportEvents; the go-ble subpackage
// provides the production implementation.
package device
