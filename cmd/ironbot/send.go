package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ironbot/internal/telemetry"
	"github.com/srg/ironbot/pkg/config"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <data>",
	Short: "Send a command to one Ironbot",
	Long: `Connect to an Ironbot, write a single command to its write characteristic and
wait until the robot confirms the write. Telemetry received meanwhile is printed.

Data is sent as text by default; use --hex for raw bytes. A command is 1 to 20 bytes.

Examples:
  ironbot send AA:BB:CC:DD:EE:FF "F100"
  ironbot send AA:BB:CC:DD:EE:FF --hex "01 02 ff"`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendHex     bool
	sendTimeout time.Duration
)

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Treat data as hex string")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Time to wait for the write confirmation (defaults to write_timeout from the config)")
}

func runSend(cmd *cobra.Command, args []string) error {
	address := args[0]
	data, err := parseCommandData(args[1], sendHex)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if sendTimeout > 0 {
		cfg.WriteTimeout = sendTimeout
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
	return sendToDevice(ctx, out, cfg, logger, address, data)
}

// sendToDevice connects to address, writes data once and waits for the confirmation.
func sendToDevice(ctx context.Context, out io.Writer, cfg *config.Config, logger *logrus.Logger, address string, data []byte) error {
	hub := telemetry.NewHub(cfg.TelemetryBuffer, logger, func(addr, line string) {
		printTelemetry(out, addr, line)
	})
	reg := newRegistry(cfg, logger, hub)
	defer reg.Close()
	defer hub.Flush()

	progress := NewProgressPrinter(out, "Connecting to "+address, "Connecting", cfg.ConnectTimeout)
	progress.Start()
	err := connectReady(ctx, reg, address, cfg.ConnectTimeout)
	progress.Stop()
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"address": address,
		"data":    fmt.Sprintf("%x", data),
	}).Info("Sending command")

	if err := sendCommand(ctx, reg, address, data, cfg.WriteTimeout); err != nil {
		return err
	}
	fmt.Fprintln(out, okColor.Sprintf("✓ Sent %d bytes to %s", len(data), address))
	return nil
}
