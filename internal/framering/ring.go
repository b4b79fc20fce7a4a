// Package framering provides a bounded, drop-oldest frame channel used by
// drivers to fan frames out to subscribers without ever blocking capture.
package framering

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Publishers never block: when the buffer is full the oldest element is
// discarded. Readers range over C() until the ring is closed.
//
//	r := framering.New[device.Frame](4)
//	go func() {
//	    for f := range r.C() {
//	        process(f)
//	    }
//	}()
//	r.Publish(frame)
type Ring[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	stats  Stats
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("framering: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side of the ring.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Publish inserts v, discarding the oldest element when full.
// Publishing to a closed ring is a no-op and reports false.
func (r *Ring[T]) Publish(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch:
			atomic.AddInt64(&r.stats.Dropped, 1)
		default:
		}
		r.ch <- v
	}
	atomic.AddInt64(&r.stats.Published, 1)
	return true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Close closes the ring. Safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Published: atomic.LoadInt64(&r.stats.Published),
		Dropped:   atomic.LoadInt64(&r.stats.Dropped),
	}
}

// Stats counts ring traffic
type Stats struct {
	Published int64
	Dropped   int64
}
