package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/camshare/pkg/device"
)

// FakeDriver is a device.Driver whose handles become ready on demand.
//
// By default handles are ready immediately. With ReadyAfter they turn ready
// once that much time passed since Open; with NeverReady they never do.
type FakeDriver struct {
	ReadyAfter time.Duration
	NeverReady bool
	OpenErr    error
	OpenDelay  time.Duration

	mu      sync.Mutex
	opens   atomic.Int64
	handles []*FakeHandle
	configs []device.Config
}

// NewFakeDriver creates a driver whose handles are ready immediately
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Open implements device.Driver
func (d *FakeDriver) Open(ctx context.Context, cfg device.Config) (device.Handle, error) {
	if d.OpenDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.OpenDelay):
		}
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	h := &FakeHandle{cfg: cfg, openedAt: time.Now(), readyAfter: d.ReadyAfter, neverReady: d.NeverReady}
	h.frame.Store(&device.Frame{
		Data:   []byte{byte(d.opens.Load() + 1)},
		Width:  cfg.Width,
		Height: cfg.Height,
	})

	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.configs = append(d.configs, cfg)
	d.mu.Unlock()
	d.opens.Add(1)

	return h, nil
}

// Opens returns how many times Open succeeded
func (d *FakeDriver) Opens() int {
	return int(d.opens.Load())
}

// Handles returns every handle opened so far, oldest first
func (d *FakeDriver) Handles() []*FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeHandle(nil), d.handles...)
}

// LastHandle returns the most recently opened handle, or nil
func (d *FakeDriver) LastHandle() *FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// Configs returns the configs passed to successful Open calls
func (d *FakeDriver) Configs() []device.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Config(nil), d.configs...)
}

// FakeHandle records teardown calls
type FakeHandle struct {
	cfg        device.Config
	openedAt   time.Time
	readyAfter time.Duration
	neverReady bool

	ready    atomic.Bool
	stopped  atomic.Bool
	frame    atomic.Pointer[device.Frame]
	stops    atomic.Int32
	closes   atomic.Int32
	polls    atomic.Int32
	StopErr  error
	CloseErr error
}

// IsRunning implements device.Handle
func (h *FakeHandle) IsRunning() bool {
	h.polls.Add(1)
	if h.stopped.Load() || h.neverReady {
		return false
	}
	if h.ready.Load() {
		return true
	}
	if time.Since(h.openedAt) >= h.readyAfter {
		h.ready.Store(true)
		return true
	}
	return false
}

// CurrentFrame implements device.Handle
func (h *FakeHandle) CurrentFrame() device.Frame {
	return *h.frame.Load()
}

// SetFrame replaces the frame returned by CurrentFrame
func (h *FakeHandle) SetFrame(f device.Frame) {
	h.frame.Store(&f)
}

// Stop implements device.Handle
func (h *FakeHandle) Stop() error {
	h.stops.Add(1)
	h.stopped.Store(true)
	return h.StopErr
}

// CloseTransport implements device.Handle
func (h *FakeHandle) CloseTransport() error {
	h.closes.Add(1)
	return h.CloseErr
}

// Config returns the config the handle was opened with
func (h *FakeHandle) Config() device.Config { return h.cfg }

// Stops returns how many times Stop was called
func (h *FakeHandle) Stops() int { return int(h.stops.Load()) }

// Closes returns how many times CloseTransport was called
func (h *FakeHandle) Closes() int { return int(h.closes.Load()) }

// Polls returns how many times IsRunning was called
func (h *FakeHandle) Polls() int { return int(h.polls.Load()) }
