package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> Ns)" on one terminal line, counting up or,
// with a countdown, the seconds left. It prints nothing when out is not a terminal.
// Stop must be called to release the refresh goroutine.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	countdown  time.Duration
	enabled    bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer; countdown 0 counts elapsed time instead.
// Setting one of stopPhases through Callback stops the printer.
func NewProgressPrinter(out io.Writer, prefix, phase string, countdown time.Duration, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		countdown:  countdown,
		enabled:    isTerminal(out),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// Start begins refreshing the progress line. Later calls are no-ops.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(start time.Time) {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.print(0)
	for {
		select {
		case <-p.stopCh:
			fmt.Fprint(p.out, clearLineSequence)
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			if p.countdown > 0 {
				// round to the nearest second
				remaining := p.countdown - elapsed
				if remaining < 0 {
					remaining = 0
				}
				p.print(int(remaining.Seconds() + 0.5))
			} else {
				p.print(int(elapsed.Seconds()))
			}
		}
	}
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase setter, safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop clears the progress line and waits for the refresh goroutine. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		p.Start() // a never-started printer still needs done closed
		close(p.stopCh)
		<-p.done
	})
}
