package shared

import (
	"sync"

	"github.com/srg/camshare/internal/simcam"
)

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// InstanceFactory builds the process-wide Manager on the first Instance call.
// This is a variable so that applications and tests can choose the driver.
var InstanceFactory = func() *Manager {
	return New(simcam.NewDriver(simcam.DefaultOptions(), nil))
}

// Instance returns the process-wide Manager, creating it on first use.
// Concurrent first calls observe the same Manager.
//
// The package installs no process hooks. Applications call Shutdown on their
// way out, from main or from their own exit hook.
func Instance() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = InstanceFactory()
	}
	return instance
}

// Current returns the process-wide Manager if one was created, without creating it
func Current() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Shutdown closes the process-wide Manager, if one was created, and forgets it.
// A later Instance call creates a fresh Manager.
func Shutdown() error {
	instanceMu.Lock()
	m := instance
	instance = nil
	instanceMu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}
