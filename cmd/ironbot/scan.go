package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Ironbots",
	Long: `Scan for Ironbots in the vicinity and list their names, addresses,
signal strength and advertised services.

By default only devices whose name starts with the configured name prefix are
shown; use --all to list every BLE peripheral.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanNamePrefix  string
	scanAll         bool
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanWatch       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (defaults to scan_timeout from the config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanNamePrefix, "name-prefix", "", "Only show devices whose name starts with this prefix (defaults to name_prefix from the config)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every BLE device regardless of its name")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print devices as they are discovered")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := &scanner.ScanOptions{
		Duration:        cfg.ScanTimeout,
		DuplicateFilter: scanNoDuplicate,
		NamePrefix:      cfg.NamePrefix,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanNamePrefix != "" {
		opts.NamePrefix = scanNamePrefix
	}
	if scanAll {
		opts.NamePrefix = ""
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	configureColor(out)

	s := scanner.NewScanner(logger)
	if scanWatch {
		return runWatchScan(ctx, out, s, opts)
	}
	return runSingleScan(ctx, out, s, opts, scanFormat)
}

func runSingleScan(ctx context.Context, out io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, format string) error {
	progress := NewProgressPrinter(out, "Scanning for Ironbots", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	list := scanner.Sorted(devices)
	if format == "json" {
		return displayDevicesJSON(out, list)
	}
	return displayDevicesTable(out, list)
}

// runWatchScan prints each newly discovered device until the scan ends.
func runWatchScan(ctx context.Context, out io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions) error {
	scanErr := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErr <- err
	}()

	for {
		select {
		case ev := <-s.Events():
			if ev.Type == scanner.EventNew {
				printDiscovered(out, ev.Device)
			}
		case err := <-scanErr:
			drainEvents(out, s)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// drainEvents prints discoveries still queued when the scan ended
func drainEvents(out io.Writer, s *scanner.Scanner) {
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == scanner.EventNew {
				printDiscovered(out, ev.Device)
			}
		default:
			return
		}
	}
}

func printDiscovered(out io.Writer, d scanner.Discovered) {
	fmt.Fprintln(out, infoColor.Sprintf("+ %s", d.Address), displayName(d.Name), rssiColor(d.RSSI).Sprintf("%d dBm", d.RSSI))
}

func displayDevicesTable(out io.Writer, devices []scanner.Discovered) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No Ironbots discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tCONNECTABLE")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, d := range devices {
		name := displayName(d.Name)
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		short := make([]string, 0, len(d.Services))
		for _, u := range d.Services {
			short = append(short, device.ShortenUUID(device.NormalizeUUID(u)))
		}
		services := strings.Join(short, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		connectable := "no"
		if d.Connectable {
			connectable = "yes"
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", name, d.Address, d.RSSI, services, connectable)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.Discovered) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func displayName(name string) string {
	if name == "" {
		return "(unknown)"
	}
	return name
}
