package shared

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval is the delay between two readiness checks of a freshly opened device.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultEventBuffer is the number of lifecycle events kept before the oldest are overwritten.
	DefaultEventBuffer = 128
)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPollInterval sets how often a new handle is polled for readiness
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithReadyTimeout bounds the readiness wait of the first acquirer.
// Zero, the default, waits until the device is ready or the context is done.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.readyTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the lifecycle event history
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.eventBuffer = n
		}
	}
}
