// Package telemetry turns notification bytes from an Ironbot's read endpoint into text lines.
package telemetry

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// DefaultBufferSize is the largest partial line kept before it is emitted unterminated
const DefaultBufferSize = 256

// Sink receives every decoded line
type Sink func(address, line string)

// Decoder assembles notification chunks of one peripheral into '\n'-terminated lines.
// A trailing '\r' is stripped and empty lines are skipped. When a line outgrows the
// buffer, the buffered part is emitted as a line of its own.
type Decoder struct {
	address string
	logger  *logrus.Logger
	sink    Sink

	mu  sync.Mutex
	buf *ringbuffer.RingBuffer
}

// NewDecoder creates a decoder for address. bufferSize <= 0 selects DefaultBufferSize.
func NewDecoder(address string, bufferSize int, logger *logrus.Logger, sink Sink) *Decoder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Decoder{
		address: address,
		logger:  logger,
		sink:    sink,
		buf:     ringbuffer.New(bufferSize),
	}
}

// Feed appends a notification chunk and emits every line it completes.
func (d *Decoder) Feed(data []byte) {
	d.mu.Lock()
	lines := d.feed(data)
	d.mu.Unlock()

	d.emit(lines)
}

// Flush emits buffered data that has no line terminator yet.
func (d *Decoder) Flush() {
	d.mu.Lock()
	lines := d.drain(true)
	d.mu.Unlock()

	d.emit(lines)
}

// Pending returns the number of buffered bytes not yet emitted.
func (d *Decoder) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Length()
}

func (d *Decoder) feed(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		n, err := d.buf.Write(data)
		data = data[n:]
		if err != nil {
			// buffer full: complete lines go out normally, the rest as an overlong line
			lines = append(lines, d.drain(false)...)
			if d.buf.Free() == 0 {
				lines = append(lines, d.drain(true)...)
			}
		}
	}
	return append(lines, d.drain(false)...)
}

// drain extracts complete lines; with force, the unterminated remainder too.
func (d *Decoder) drain(force bool) []string {
	if d.buf.IsEmpty() {
		return nil
	}
	pending := make([]byte, d.buf.Length())
	n, err := d.buf.TryRead(pending)
	if err != nil && err != ringbuffer.ErrIsEmpty {
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"error":   err,
		}).Warn("Failed to read telemetry buffer")
	}
	pending = pending[:n]

	var lines []string
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSuffix(pending[:i], []byte{'\r'}); len(line) > 0 {
			lines = append(lines, string(line))
		}
		pending = pending[i+1:]
	}

	if len(pending) > 0 {
		if force {
			lines = append(lines, string(pending))
		} else {
			// cannot fail: the remainder came out of this buffer
			_, _ = d.buf.Write(pending)
		}
	}
	return lines
}

func (d *Decoder) emit(lines []string) {
	for _, line := range lines {
		d.logger.WithFields(logrus.Fields{
			"address": d.address,
			"line":    line,
		}).Info("Telemetry")
		if d.sink != nil {
			d.sink(d.address, line)
		}
	}
}

// Hub keeps one Decoder per peripheral. Its Handle method fits device.SessionOptions.OnData.
type Hub struct {
	bufferSize int
	logger     *logrus.Logger
	sink       Sink

	mu       sync.Mutex
	decoders map[string]*Decoder
}

// NewHub creates a hub whose decoders share bufferSize, logger and sink.
func NewHub(bufferSize int, logger *logrus.Logger, sink Sink) *Hub {
	return &Hub{
		bufferSize: bufferSize,
		logger:     logger,
		sink:       sink,
		decoders:   make(map[string]*Decoder),
	}
}

// Handle feeds data into the decoder of address, creating it on first use.
func (h *Hub) Handle(address string, data []byte) {
	h.decoder(address).Feed(data)
}

// Flush flushes every decoder.
func (h *Hub) Flush() {
	h.mu.Lock()
	decoders := make([]*Decoder, 0, len(h.decoders))
	for _, d := range h.decoders {
		decoders = append(decoders, d)
	}
	h.mu.Unlock()

	for _, d := range decoders {
		d.Flush()
	}
}

func (h *Hub) decoder(address string) *Decoder {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.decoders[address]
	if !ok {
		d = NewDecoder(address, h.bufferSize, h.logger, h.sink)
		h.decoders[address] = d
	}
	return d
}
