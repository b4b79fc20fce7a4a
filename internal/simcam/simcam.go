// Package simcam implements a synthetic camera driver.
//
// It behaves like a real capture device from the manager's point of view:
// Open returns immediately, the handle reports not running until a warmup
// period has elapsed, and frames are then produced at the configured rate.
package simcam

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/internal/framering"
	"github.com/srg/camshare/internal/groutine"
	"github.com/srg/camshare/pkg/device"
)

const frameBufferSize = 4

// Options tune the simulated device
type Options struct {
	// Warmup is the delay between Open and the first frame.
	Warmup time.Duration
	// NeverReady keeps the device silent forever, like a camera with a hardware fault.
	NeverReady bool
}

// DefaultOptions returns the options used by the sim driver
func DefaultOptions() Options {
	return Options{Warmup: 300 * time.Millisecond}
}

// Driver opens simulated cameras
type Driver struct {
	opts   Options
	logger *logrus.Logger
	opens  atomic.Int64
}

// NewDriver creates a simulated camera driver
func NewDriver(opts Options, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{opts: opts, logger: logger}
}

// Opens returns how many handles this driver has opened
func (d *Driver) Opens() int64 {
	return d.opens.Load()
}

// Open starts a simulated capture loop for cfg
func (d *Driver) Open(ctx context.Context, cfg device.Config) (device.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("simcam: %w", err)
	}

	n := d.opens.Add(1)
	loopCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		frames: framering.New[device.Frame](frameBufferSize),
		logger: d.logger,
	}

	d.logger.WithFields(logrus.Fields{
		"device": cfg.Device,
		"width":  cfg.Width,
		"height": cfg.Height,
		"fps":    cfg.FrameRate,
		"open":   n,
	}).Debug("simcam: opening device")

	groutine.Go(loopCtx, fmt.Sprintf("simcam-%d", n), func(ctx context.Context) {
		h.run(ctx, d.opts)
	})

	return h, nil
}

// Handle is a running simulated camera
type Handle struct {
	cfg     device.Config
	running atomic.Bool
	current atomic.Pointer[device.Frame]
	frames  *framering.Ring[device.Frame]
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *logrus.Logger

	stopped   atomic.Int32
	closed    atomic.Int32
	closeOnce sync.Once
}

func (h *Handle) run(ctx context.Context, opts Options) {
	defer close(h.done)

	if opts.NeverReady {
		<-ctx.Done()
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(opts.Warmup):
	}

	ticker := time.NewTicker(h.cfg.FrameInterval())
	defer ticker.Stop()

	var seq uint64
	h.publish(seq)
	h.running.Store(true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			h.publish(seq)
		}
	}
}

func (h *Handle) publish(seq uint64) {
	f := device.Frame{
		Data:      gradient(h.cfg.Width, h.cfg.Height, seq),
		Width:     h.cfg.Width,
		Height:    h.cfg.Height,
		Seq:       seq,
		Timestamp: time.Now(),
	}
	h.current.Store(&f)
	h.frames.Publish(f)
}

// gradient renders a single-channel diagonal ramp shifted by seq so consecutive frames differ.
func gradient(width, height int, seq uint64) []byte {
	buf := make([]byte, width*height)
	shift := int(seq % 256)
	for y := 0; y < height; y++ {
		row := buf[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte((x + y + shift) & 0xff)
		}
	}
	return buf
}

// IsRunning reports whether frames are flowing
func (h *Handle) IsRunning() bool {
	return h.running.Load()
}

// CurrentFrame returns the most recent frame, or an empty frame before the first one
func (h *Handle) CurrentFrame() device.Frame {
	if f := h.current.Load(); f != nil {
		return *f
	}
	return device.Frame{}
}

// Frames returns a drop-oldest stream of frames. Closed by CloseTransport.
func (h *Handle) Frames() <-chan device.Frame {
	return h.frames.C()
}

// Config returns the configuration the handle was opened with
func (h *Handle) Config() device.Config {
	return h.cfg
}

// Stop marks the device not running and halts frame production
func (h *Handle) Stop() error {
	h.running.Store(false)
	h.cancel()
	h.stopped.Add(1)
	return nil
}

// CloseTransport waits for the capture loop to exit and closes the frame stream
func (h *Handle) CloseTransport() error {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done
		h.frames.Close()
		h.logger.WithField("device", h.cfg.Device).Debug("simcam: transport closed")
	})
	h.closed.Add(1)
	return nil
}

// StopCalls and CloseCalls expose teardown counters for diagnostics
func (h *Handle) StopCalls() int  { return int(h.stopped.Load()) }
func (h *Handle) CloseCalls() int { return int(h.closed.Load()) }
