package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> Ns)" with elapsed seconds while a
// blocking step runs, such as waiting for a camera to start streaming.
//
//	p := NewProgressPrinter("Opening /dev/video0", "Waiting for camera")
//	p.Start()
//	defer p.Stop()
//
// Output goes to stderr and is suppressed when stderr is not a terminal.
// A ProgressPrinter is single-use; Stop is safe to call more than once.
type ProgressPrinter struct {
	prefix  string
	phase   string
	w       io.Writer
	enabled bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a progress printer writing to stderr
func NewProgressPrinter(prefix, phase string) *ProgressPrinter {
	return &ProgressPrinter{
		prefix:   prefix,
		phase:    phase,
		w:        os.Stderr,
		enabled:  term.IsTerminal(int(os.Stderr.Fd())),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins displaying progress updates in a background goroutine
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}

		started := time.Now()
		_, _ = fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, p.phase)

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stopChan:
					_, _ = fmt.Fprint(p.w, clearLineSequence)
					return
				case <-ticker.C:
					_, _ = fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, p.phase, int(time.Since(started).Seconds()))
				}
			}
		}()
	})
}

// Stop ends the display and clears the line
func (p *ProgressPrinter) Stop() {
	p.startOnce.Do(func() { close(p.done) })
	p.stopOnce.Do(func() {
		close(p.stopChan)
		<-p.done
	})
}
