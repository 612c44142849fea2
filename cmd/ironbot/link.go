package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/devicefactory"
	"github.com/srg/ironbot/internal/registry"
	"github.com/srg/ironbot/internal/telemetry"
	"github.com/srg/ironbot/pkg/config"
)

// stateFeedSize is the number of state transitions a waiter may fall behind by
const stateFeedSize = 16

// newRegistry builds a registry dialing through the BLE stack. hub may be nil.
func newRegistry(cfg *config.Config, logger *logrus.Logger, hub *telemetry.Hub) *registry.Registry {
	var onData func(address string, data []byte)
	if hub != nil {
		onData = hub.Handle
	}
	return registry.New(devicefactory.NewDialer(cfg.ConnectTimeout, logger), registry.Options{
		Rules:  cfg.Rules(),
		Logger: logger,
		OnData: onData,
	})
}

// connectReady connects address and waits until it accepts commands.
func connectReady(ctx context.Context, reg *registry.Registry, address string, timeout time.Duration) error {
	feed := reg.Subscribe(stateFeedSize)
	defer reg.Unsubscribe(feed)

	if err := reg.Connect(ctx, address); err != nil {
		return err
	}
	session, ok := reg.Get(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionLost, address)
	}
	ready := session.Ready()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case <-ready:
			return nil
		case ev, ok := <-feed.C():
			if !ok {
				return fmt.Errorf("%w: %s", ErrConnectionLost, address)
			}
			if ev.Address == address && ev.State == device.Disconnected {
				return fmt.Errorf("%w: %s", ErrConnectionLost, address)
			}
		case <-ctx.Done():
			return fmt.Errorf("connecting to %s: %w", address, ctx.Err())
		}
	}
}

// connectAll connects every address in parallel and reports the ones that failed on out.
// errs is indexed like addresses.
func connectAll(ctx context.Context, out io.Writer, reg *registry.Registry, addresses []string, timeout time.Duration) (errs []error, connected int) {
	errs = make([]error, len(addresses))
	var wg sync.WaitGroup
	for i, address := range addresses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = connectReady(ctx, reg, address, timeout)
		}()
	}
	wg.Wait()

	for i, address := range addresses {
		if errs[i] != nil {
			fmt.Fprintln(out, failColor.Sprintf("✗ %s", address), FormatUserError(errs[i]))
			continue
		}
		connected++
	}
	return errs, connected
}

// sendCommand writes data to address and waits at most timeout for the confirmation.
func sendCommand(ctx context.Context, reg *registry.Registry, address string, data []byte, timeout time.Duration) error {
	outcome, done := device.AwaitOutcome()
	reg.Send(address, data, outcome)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w from %s within %s", ErrNoResult, address, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseCommandData converts input string to command bytes
func parseCommandData(dataStr string, hexInput bool) ([]byte, error) {
	data := []byte(dataStr)
	if hexInput {
		// Remove spaces and common separators
		cleaned := strings.ReplaceAll(dataStr, " ", "")
		cleaned = strings.ReplaceAll(cleaned, ":", "")
		cleaned = strings.ReplaceAll(cleaned, "-", "")
		cleaned = strings.ReplaceAll(strings.ToLower(cleaned), "0x", "")

		var err error
		data, err = hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
	}

	if len(data) == 0 || len(data) > device.MaxCommandLength {
		return nil, &device.WriteError{
			Kind:    device.KindValidation,
			Payload: data,
			Reason:  fmt.Sprintf("command is %d bytes", len(data)),
		}
	}
	return data, nil
}
