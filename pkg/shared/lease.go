package shared

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srg/camshare/pkg/device"
)

// LeaseInfo describes a registered holder of the camera
type LeaseInfo struct {
	ID         string
	Consumer   string
	AcquiredAt time.Time
}

// Lease is one consumer's share of the camera.
//
// Release is idempotent, so `defer lease.Release()` is always safe. A lease
// outliving its acquisition epoch (the camera was force-closed or released
// through Manager.Release) releases nothing.
type Lease struct {
	m          *Manager
	id         string
	consumer   string
	epoch      uint64
	acquiredAt time.Time
	once       sync.Once
}

func newLease(m *Manager, consumer string, epoch uint64) *Lease {
	return &Lease{
		m:          m,
		id:         uuid.NewString(),
		consumer:   consumer,
		epoch:      epoch,
		acquiredAt: time.Now(),
	}
}

// ID returns the unique lease identifier
func (l *Lease) ID() string {
	return l.id
}

// Consumer returns the name given to AcquireAs
func (l *Lease) Consumer() string {
	return l.consumer
}

// Info returns the registry entry for this lease
func (l *Lease) Info() LeaseInfo {
	return LeaseInfo{ID: l.id, Consumer: l.consumer, AcquiredAt: l.acquiredAt}
}

// Handle returns the shared camera handle while the lease is held.
// Once the lease is released or its epoch ended it returns device.ErrHandleClosed.
// Consumers must not Stop or close the handle; only the manager does.
func (l *Lease) Handle() (device.Handle, error) {
	return l.m.leaseHandle(l)
}

// CurrentFrame returns the latest frame through the manager
func (l *Lease) CurrentFrame() (device.Frame, error) {
	return l.m.CurrentFrame()
}

// Release gives the lease back. Only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.releaseLease(l)
	})
}
