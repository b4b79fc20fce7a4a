package shared

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/pkg/device"
)

// ErrClosed is returned by Acquire once the manager has been closed
var ErrClosed = errors.New("shared device manager is closed")

// Manager reference-counts a single camera handle.
//
// All acquire and release transitions are serialized by one mutex held for the
// whole operation, including the readiness wait of the first acquirer. IsReady
// and RefCount read an atomic mirror and never block on that wait.
type Manager struct {
	driver       device.Driver
	logger       *logrus.Logger
	pollInterval time.Duration
	readyTimeout time.Duration
	eventBuffer  int

	mu          sync.Mutex
	handle      device.Handle
	initialized bool
	refCount    int
	cfg         device.Config
	epoch       uint64
	closed      bool

	refs      atomic.Int64
	leases    *hashmap.Map[string, LeaseInfo]
	events    mpmc.RichOverlappedRingBuffer[Event]
	opens     atomic.Int64
	closes    atomic.Int64
	acqs      atomic.Int64
	rels      atomic.Int64
	closeOnce sync.Once
}

// New creates a Manager that opens cameras through driver
func New(driver device.Driver, opts ...Option) *Manager {
	if driver == nil {
		panic("shared: nil driver")
	}

	m := &Manager{
		driver:       driver,
		logger:       logrus.New(),
		pollInterval: DefaultPollInterval,
		eventBuffer:  DefaultEventBuffer,
		leases:       hashmap.New[string, LeaseInfo](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = mpmc.NewOverlappedRingBuffer[Event](uint32(m.eventBuffer))

	// Last resort for managers dropped without Close while still holding the device.
	runtime.SetFinalizer(m, func(m *Manager) { _ = m.shutdown() })

	return m
}

// Acquire registers an anonymous consumer of the camera. See AcquireAs.
func (m *Manager) Acquire(ctx context.Context, cfg device.Config) (*Lease, error) {
	return m.AcquireAs(ctx, "", cfg)
}

// AcquireAs registers consumer as a holder of the camera and returns its lease.
//
// When nobody holds the camera, it is opened with cfg and the call blocks until
// the device reports it is running, ctx is done or the ready timeout expires.
// Otherwise the live handle is shared and cfg is ignored.
func (m *Manager) AcquireAs(ctx context.Context, consumer string, cfg device.Config) (*Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if m.refCount == 0 {
		if err := m.openLocked(ctx, consumer, cfg); err != nil {
			return nil, err
		}
	} else if requested := cfg.WithDefaults(); requested != m.cfg {
		m.logger.WithFields(logrus.Fields{
			"consumer":  consumer,
			"requested": requested.String(),
			"active":    m.cfg.String(),
		}).Debug("Camera already open, sharing active configuration")
	}

	m.refCount++
	m.refs.Store(int64(m.refCount))
	m.acqs.Add(1)

	lease := newLease(m, consumer, m.epoch)
	m.leases.Set(lease.id, lease.Info())
	m.record(Event{Kind: EventAcquired, Lease: lease.id, Consumer: consumer})

	m.logger.WithFields(logrus.Fields{
		"consumer": consumer,
		"lease":    lease.id,
		"refs":     m.refCount,
	}).Debug("Camera acquired")

	return lease, nil
}

// openLocked opens the device and waits for it to stream. Caller holds m.mu.
func (m *Manager) openLocked(ctx context.Context, consumer string, cfg device.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid camera config: %w", err)
	}

	log := m.logger.WithFields(logrus.Fields{
		"consumer": consumer,
		"device":   cfg.Device,
		"width":    cfg.Width,
		"height":   cfg.Height,
		"fps":      cfg.FrameRate,
	})
	log.Info("Opening camera")

	h, err := m.driver.Open(ctx, cfg)
	if err != nil {
		m.record(Event{Kind: EventOpenFailed, Consumer: consumer, Err: err})
		return fmt.Errorf("failed to open camera %s: %w", cfg.Device, err)
	}
	m.opens.Add(1)
	m.record(Event{Kind: EventOpened, Consumer: consumer})

	started := time.Now()
	if err := m.waitReady(ctx, h); err != nil {
		log.WithError(err).Warn("Camera did not become ready, closing it")
		_ = m.teardown(h)
		m.record(Event{Kind: EventOpenFailed, Consumer: consumer, Err: err})
		return fmt.Errorf("%w: %s after %s: %w", device.ErrDeviceNotReady, cfg.Device, time.Since(started).Round(time.Millisecond), err)
	}

	m.handle = h
	m.initialized = true
	m.cfg = cfg
	m.epoch++
	m.record(Event{Kind: EventReady, Consumer: consumer})
	log.WithField("wait", time.Since(started).Round(time.Millisecond)).Info("Camera ready")

	return nil
}

// waitReady polls h until it runs. Without a ready timeout only ctx bounds the wait.
func (m *Manager) waitReady(ctx context.Context, h device.Handle) error {
	if h.IsRunning() {
		return nil
	}

	if m.readyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.readyTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.IsRunning() {
				return nil
			}
		}
	}
}

// Release drops one reference to the camera. Releasing with no holders is a no-op.
// The last release stops the device and closes its transport before returning.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked("", "")
}

func (m *Manager) releaseLease(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// leases of an earlier epoch, or already dropped by the epoch ending, hold nothing
	if l.epoch != m.epoch || m.refCount == 0 {
		return
	}
	if !m.leases.Del(l.id) {
		return
	}
	m.releaseLocked(l.id, l.consumer)
}

func (m *Manager) releaseLocked(leaseID, consumer string) {
	if m.refCount == 0 {
		m.logger.Debug("Release called with no holders, ignoring")
		return
	}

	m.refCount--
	m.refs.Store(int64(m.refCount))
	m.rels.Add(1)
	m.record(Event{Kind: EventReleased, Lease: leaseID, Consumer: consumer})

	m.logger.WithFields(logrus.Fields{
		"consumer": consumer,
		"lease":    leaseID,
		"refs":     m.refCount,
	}).Debug("Camera released")

	if m.refCount > 0 {
		return
	}

	_ = m.closeHandleLocked(EventClosed)
}

// closeHandleLocked tears down the current handle and resets state. Caller holds m.mu.
func (m *Manager) closeHandleLocked(kind EventKind) error {
	h := m.handle
	m.handle = nil
	m.initialized = false
	m.refCount = 0
	m.refs.Store(0)
	ids := make([]string, 0, m.leases.Len())
	m.leases.Range(func(id string, _ LeaseInfo) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		m.leases.Del(id)
	}

	if h == nil {
		return nil
	}

	err := m.teardown(h)
	m.closes.Add(1)
	m.record(Event{Kind: kind})
	m.logger.WithField("device", m.cfg.Device).Info("Camera closed")
	return err
}

// teardown stops h and closes its transport. Failures are logged and recorded
// but never keep the manager from returning to the not-initialized state.
func (m *Manager) teardown(h device.Handle) error {
	var errs []error
	if err := h.Stop(); err != nil {
		err = fmt.Errorf("stop: %w", err)
		m.logger.WithError(err).Warn("Failed to stop camera")
		m.record(Event{Kind: EventTeardownError, Err: err})
		errs = append(errs, err)
	}
	if err := h.CloseTransport(); err != nil {
		err = fmt.Errorf("close transport: %w", err)
		m.logger.WithError(err).Warn("Failed to close camera transport")
		m.record(Event{Kind: EventTeardownError, Err: err})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Handle returns the live camera handle, or device.ErrNotInitialized when nobody holds it
func (m *Manager) Handle() (device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		return nil, device.ErrNotInitialized
	}
	return m.handle, nil
}

func (m *Manager) leaseHandle(l *Lease) (device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.epoch != m.epoch || m.refCount == 0 {
		return nil, device.ErrHandleClosed
	}
	if _, held := m.leases.Get(l.id); !held {
		return nil, device.ErrHandleClosed
	}
	return m.handle, nil
}

// CurrentFrame returns the latest frame of the live camera, or device.ErrNotInitialized
// when nobody holds it
func (m *Manager) CurrentFrame() (device.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		return device.Frame{}, device.ErrNotInitialized
	}
	return m.handle.CurrentFrame(), nil
}

// IsReady reports whether a camera is currently held and streaming
func (m *Manager) IsReady() bool {
	return m.refs.Load() > 0
}

// RefCount returns the number of outstanding holders
func (m *Manager) RefCount() int {
	return int(m.refs.Load())
}

// Config returns the configuration of the live camera
func (m *Manager) Config() (device.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		return device.Config{}, device.ErrNotInitialized
	}
	return m.cfg, nil
}

// Holders lists the leases currently registered, oldest first.
// Anonymous Release calls do not remove entries; they are cleared when the epoch ends.
func (m *Manager) Holders() []LeaseInfo {
	holders := make([]LeaseInfo, 0, m.leases.Len())
	m.leases.Range(func(_ string, info LeaseInfo) bool {
		holders = append(holders, info)
		return true
	})
	sort.Slice(holders, func(i, j int) bool {
		return holders[i].AcquiredAt.Before(holders[j].AcquiredAt)
	})
	return holders
}

// Stats returns lifecycle counters
func (m *Manager) Stats() Stats {
	return Stats{
		Opens:    m.opens.Load(),
		Closes:   m.closes.Load(),
		Acquires: m.acqs.Load(),
		Releases: m.rels.Load(),
		Refs:     int(m.refs.Load()),
	}
}

// Close is the end-of-life safety net. If a camera is still open it is stopped
// and its transport closed regardless of the reference count. Further Acquire
// calls fail with ErrClosed. Close runs its teardown at most once; teardown
// failures are returned but the manager is closed either way.
func (m *Manager) Close() error {
	err := m.shutdown()
	runtime.SetFinalizer(m, nil)
	return err
}

func (m *Manager) shutdown() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.closed = true
		if !m.initialized {
			return
		}

		m.logger.WithField("refs", m.refCount).Warn("Closing manager with camera still held, forcing teardown")
		err = m.closeHandleLocked(EventSafetyNet)
	})
	return err
}

// DrainEvents removes and returns the buffered lifecycle events, oldest first
func (m *Manager) DrainEvents() []Event {
	var events []Event
	for !m.events.IsEmpty() {
		ev, err := m.events.Dequeue()
		if err != nil {
			break
		}
		events = append(events, ev)
	}
	return events
}

func (m *Manager) record(ev Event) {
	ev.Refs = m.refCount
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if _, err := m.events.EnqueueM(ev); err != nil {
		m.logger.WithError(err).Debug("Failed to record lifecycle event")
	}
}
