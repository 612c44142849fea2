package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"github.com/srg/ironbot/internal/devicefactory"
	"github.com/srg/ironbot/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// Discovered is a peripheral seen during a scan
type Discovered struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device Discovered
}

// Scanner handles Ironbot discovery
type Scanner struct {
	devices *hashmap.Map[string, Discovered]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	NamePrefix      string   // case-insensitive; empty matches every name
	ServiceUUIDs    []string // any accepted UUID notation
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		devices: hashmap.New[string, Discovered](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}
}

// Scan discovers peripherals until opts.Duration elapses or ctx is done
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Discovered, error) {
	s.devices = hashmap.New[string, Discovered]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	s.scanOptions = normalizeOptions(opts)
	defer func() {
		s.scanOptions = nil
	}()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithFields(logrus.Fields{
		"duration":    opts.Duration,
		"name_prefix": opts.NamePrefix,
	}).Info("Starting BLE scan...")

	progressCallback("Scanning")

	dev, err := devicefactory.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	err = dev.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	progressCallback("Processing results")

	devices := make(map[string]Discovered, s.devices.Len())
	s.devices.Range(func(key string, value Discovered) bool {
		devices[key] = value
		return true
	})

	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	address := adv.Addr()

	prev, existing := s.devices.Get(address)
	if !existing && !s.shouldIncludeDevice(adv, s.scanOptions) {
		return
	}

	d := Discovered{
		Address:     address,
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    adv.Services(),
		LastSeen:    time.Now(),
	}
	if existing {
		// advertisements and scan responses alternate; keep what the other one carried
		if d.Name == "" {
			d.Name = prev.Name
		}
		if len(d.Services) == 0 {
			d.Services = prev.Services
		}
	}
	s.devices.Set(address, d)

	event := DeviceEvent{Device: d, Type: EventUpdated}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  d.Name,
			"address": d.Address,
			"rssi":    d.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies block/allow/name/service filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	addr := strings.ToUpper(adv.Addr())

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(adv.LocalName()), opts.NamePrefix) {
		return false
	}

	if len(opts.ServiceUUIDs) > 0 {
		advertised := adv.Services()
		for _, required := range opts.ServiceUUIDs {
			for _, u := range advertised {
				if required == device.NormalizeUUID(u) {
					return true
				}
			}
		}
		return false
	}

	return true
}

// normalizeOptions returns a copy of opts in the form the filters compare against
func normalizeOptions(opts *ScanOptions) *ScanOptions {
	n := *opts
	n.NamePrefix = strings.ToLower(opts.NamePrefix)
	n.ServiceUUIDs = device.NormalizeUUIDs(opts.ServiceUUIDs)
	n.AllowList = upperAll(opts.AllowList)
	n.BlockList = upperAll(opts.BlockList)
	return &n
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

// Sorted returns devices ordered by signal strength, strongest first
func Sorted(devices map[string]Discovered) []Discovered {
	list := make([]Discovered, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
