package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/telemetry"
	"github.com/srg/ironbot/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address> [device-address...]",
	Short: "Print telemetry and connection changes of Ironbots",
	Long: `Connect to one or more Ironbots and print every telemetry line they send,
prefixed with the robot's address, together with disconnections.

Monitoring stops on Ctrl+C, after --duration, or once every robot has disconnected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMonitor,
}

var monitorDuration time.Duration

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	addresses := uniqueAddresses(args)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newLockedWriter(cmd.OutOrStdout())
	configureColor(out)
	return monitorDevices(ctx, out, cfg, logger, addresses, monitorDuration)
}

// monitorDevices streams telemetry of addresses until ctx is done, duration elapses
// or the last link drops.
func monitorDevices(ctx context.Context, out io.Writer, cfg *config.Config, logger *logrus.Logger, addresses []string, duration time.Duration) error {
	hub := telemetry.NewHub(cfg.TelemetryBuffer, logger, func(addr, line string) {
		printTelemetry(out, addr, line)
	})
	reg := newRegistry(cfg, logger, hub)
	defer reg.Close()
	defer hub.Flush()

	feed := reg.Subscribe(stateFeedSize)
	connectErrs, connected := connectAll(ctx, out, reg, addresses, cfg.ConnectTimeout)
	if err := ctx.Err(); err != nil {
		return err
	}
	if connected == 0 {
		return fmt.Errorf("none of the %d robots could be connected", len(addresses))
	}

	live := make(map[string]struct{}, connected)
	for i, address := range addresses {
		if connectErrs[i] == nil {
			live[address] = struct{}{}
		}
	}
	// a link may have dropped between becoming ready and now
	for address, state := range reg.States() {
		if _, ok := live[address]; ok && state == device.Disconnected {
			delete(live, address)
			fmt.Fprintln(out, warnColor.Sprintf("✗ %s disconnected", address))
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("%w: every robot disconnected", ErrConnectionLost)
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	fmt.Fprintln(out, okColor.Sprintf("Monitoring %d robots (Ctrl+C to stop)", len(live)))
	for {
		select {
		case ev, ok := <-feed.C():
			if !ok {
				return nil
			}
			if _, tracked := live[ev.Address]; !tracked || ev.State != device.Disconnected {
				continue
			}
			delete(live, ev.Address)
			fmt.Fprintln(out, warnColor.Sprintf("✗ %s disconnected", ev.Address))
			if len(live) == 0 {
				return fmt.Errorf("%w: every robot disconnected", ErrConnectionLost)
			}
		case <-ctx.Done():
			if duration > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		}
	}
}
