package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/srg/camshare/pkg/shared"
	"golang.org/x/term"
)

// tracePrinter renders lifecycle events, colored when writing to a terminal
type tracePrinter struct {
	w      io.Writer
	colors map[shared.EventKind]*color.Color
}

func newTracePrinter(w io.Writer) *tracePrinter {
	colorize := false
	if f, ok := w.(*os.File); ok {
		colorize = term.IsTerminal(int(f.Fd()))
	}

	colors := map[shared.EventKind]*color.Color{
		shared.EventOpened:        color.New(color.FgCyan),
		shared.EventReady:         color.New(color.FgGreen, color.Bold),
		shared.EventOpenFailed:    color.New(color.FgRed, color.Bold),
		shared.EventAcquired:      color.New(color.FgGreen),
		shared.EventReleased:      color.New(color.FgYellow),
		shared.EventClosed:        color.New(color.FgCyan),
		shared.EventSafetyNet:     color.New(color.FgMagenta, color.Bold),
		shared.EventTeardownError: color.New(color.FgRed),
	}
	for _, c := range colors {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return &tracePrinter{w: w, colors: colors}
}

func (p *tracePrinter) Print(events []shared.Event) {
	if len(events) == 0 {
		return
	}
	start := events[0].At
	for _, ev := range events {
		kind := string(ev.Kind)
		if c, ok := p.colors[ev.Kind]; ok {
			kind = c.Sprint(kind)
		}
		line := fmt.Sprintf("%8s  %-14s refs=%d", ev.At.Sub(start).Truncate(time.Millisecond), kind, ev.Refs)
		if ev.Consumer != "" {
			line += "  consumer=" + ev.Consumer
		}
		if ev.Err != nil {
			line += "  err=" + ev.Err.Error()
		}
		_, _ = fmt.Fprintln(p.w, line)
	}
}

func (p *tracePrinter) PrintStats(s shared.Stats) {
	_, _ = fmt.Fprintf(p.w, "opens=%d closes=%d acquires=%d releases=%d refs=%d\n",
		s.Opens, s.Closes, s.Acquires, s.Releases, s.Refs)
}
