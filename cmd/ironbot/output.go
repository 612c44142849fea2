package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
	warnColor = color.New(color.FgYellow)
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	if l, ok := w.(*lockedWriter); ok {
		w = l.w
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// configureColor enables colors only when out is a terminal
func configureColor(out io.Writer) {
	color.NoColor = !isTerminal(out)
}

// rssiColor grades signal strength: strong green, usable yellow, weak red
func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return okColor
	case rssi >= -80:
		return warnColor
	default:
		return failColor
	}
}

// lockedWriter serializes writes from telemetry callbacks and the command goroutine
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLockedWriter(w io.Writer) *lockedWriter {
	return &lockedWriter{w: w}
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// printTelemetry writes one telemetry line in a single Write call
func printTelemetry(out io.Writer, address, line string) {
	fmt.Fprintln(out, infoColor.Sprintf("[%s]", address), line)
}
