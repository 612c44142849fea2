package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/telemetry"
	"github.com/srg/ironbot/pkg/config"
)

// broadcastCmd represents the broadcast command
var broadcastCmd = &cobra.Command{
	Use:   "broadcast <data> --to <address>[,<address>...]",
	Short: "Send a command to several Ironbots at once",
	Long: `Connect to every listed Ironbot and write the same command to each of them.
The result is reported per robot; robots that cannot be reached are skipped.
The command fails only when no robot confirmed the write.

Examples:
  ironbot broadcast "S" --to AA:BB:CC:DD:EE:01,AA:BB:CC:DD:EE:02
  ironbot broadcast --hex "ff 00" --to AA:BB:CC:DD:EE:01 --to AA:BB:CC:DD:EE:02`,
	Args: cobra.ExactArgs(1),
	RunE: runBroadcast,
}

var (
	broadcastTo      []string
	broadcastHex     bool
	broadcastTimeout time.Duration
)

func init() {
	broadcastCmd.Flags().StringSliceVar(&broadcastTo, "to", nil, "Addresses of the target robots")
	broadcastCmd.Flags().BoolVar(&broadcastHex, "hex", false, "Treat data as hex string")
	broadcastCmd.Flags().DurationVar(&broadcastTimeout, "timeout", 0, "Time to wait for the write confirmations (defaults to write_timeout from the config)")
	_ = broadcastCmd.MarkFlagRequired("to")
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	data, err := parseCommandData(args[0], broadcastHex)
	if err != nil {
		return err
	}
	addresses := uniqueAddresses(broadcastTo)
	if len(addresses) == 0 {
		return fmt.Errorf("at least one target address is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if broadcastTimeout > 0 {
		cfg.WriteTimeout = broadcastTimeout
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
	return broadcastToDevices(ctx, out, cfg, logger, addresses, data)
}

// broadcastToDevices connects every address in parallel and writes data to those that came up.
func broadcastToDevices(ctx context.Context, out io.Writer, cfg *config.Config, logger *logrus.Logger, addresses []string, data []byte) error {
	hub := telemetry.NewHub(cfg.TelemetryBuffer, logger, func(addr, line string) {
		printTelemetry(out, addr, line)
	})
	reg := newRegistry(cfg, logger, hub)
	defer reg.Close()
	defer hub.Flush()

	connectErrs, connected := connectAll(ctx, out, reg, addresses, cfg.ConnectTimeout)
	if err := ctx.Err(); err != nil {
		return err
	}
	if connected == 0 {
		return fmt.Errorf("none of the %d robots could be connected", len(addresses))
	}

	logger.WithFields(logrus.Fields{
		"targets": connected,
		"data":    fmt.Sprintf("%x", data),
	}).Info("Broadcasting command")

	waitCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()
	results, err := reg.BroadcastWait(waitCtx, data)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	states := reg.States()
	succeeded := 0
	for i, address := range addresses {
		if connectErrs[i] != nil {
			continue
		}
		res, ok := results[address]
		switch {
		case !ok && states[address] != device.Connected:
			fmt.Fprintln(out, failColor.Sprintf("✗ %s", address), FormatUserError(fmt.Errorf("%w: %s", ErrConnectionLost, address)))
		case !ok:
			fmt.Fprintln(out, failColor.Sprintf("✗ %s", address), FormatUserError(fmt.Errorf("%w within %s", ErrNoResult, cfg.WriteTimeout)))
		case res != nil:
			fmt.Fprintln(out, failColor.Sprintf("✗ %s", address), FormatUserError(res))
		default:
			succeeded++
			fmt.Fprintln(out, okColor.Sprintf("✓ %s", address))
		}
	}

	summary := fmt.Sprintf("Sent %d bytes to %d of %d robots", len(data), succeeded, len(addresses))
	if succeeded < len(addresses) {
		fmt.Fprintln(out, warnColor.Sprint(summary))
	} else {
		fmt.Fprintln(out, okColor.Sprint(summary))
	}
	if succeeded == 0 {
		return fmt.Errorf("broadcast failed on every robot")
	}
	return nil
}

// uniqueAddresses trims addresses and drops empty and repeated entries, keeping order
func uniqueAddresses(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
