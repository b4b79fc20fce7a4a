package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/srg/camshare/pkg/shared"
)

// exitGrace bounds how long a signalled exit waits for the running command to release the camera
const exitGrace = 3 * time.Second

// exitCodeInterrupted is returned when the command had to be abandoned on a signal
const exitCodeInterrupted = 130

// exitHook turns a process signal into a command cancellation. Consumers see
// context.Canceled and release their leases normally; only a command that
// does not unwind within grace gets the camera torn down under it.
type exitHook struct {
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	grace    time.Duration
	exit     func(code int)
}

func newExitHook(cancel context.CancelFunc) *exitHook {
	return &exitHook{
		cancel: cancel,
		done:   make(chan struct{}),
		grace:  exitGrace,
		exit:   os.Exit,
	}
}

// run is registered with onexit and runs on SIGINT, SIGTERM, SIGQUIT and SIGTSTP
func (h *exitHook) run() {
	h.cancel()

	select {
	case <-h.done:
		// main owns teardown and exit
		return
	case <-time.After(h.grace):
	}

	if err := shared.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: camera teardown: %s\n", err)
	}
	h.exit(exitCodeInterrupted)
}

// finished marks the command as returned
func (h *exitHook) finished() {
	h.doneOnce.Do(func() { close(h.done) })
}
