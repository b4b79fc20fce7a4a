// Package v4l2cam opens Video4Linux cameras through an ffmpeg subprocess.
//
// ffmpeg reads the device and writes an MJPEG stream to stdout; the handle
// splits it into JPEG frames on the SOI/EOI markers. The handle reports
// running once the first complete frame arrived.
//
// Requirements: ffmpeg in PATH and read access to the device (video group).
package v4l2cam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/internal/framering"
	"github.com/srg/camshare/internal/groutine"
	"github.com/srg/camshare/pkg/device"
)

const (
	readChunkSize   = 64 * 1024
	maxPendingBytes = 16 * 1024 * 1024
	frameBufferSize = 4
	stderrTailLines = 20
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// CommandFactory builds the capture command. This is a variable so that it can be overridden in tests.
var CommandFactory = func(ctx context.Context, cfg device.Config) *exec.Cmd {
	return exec.CommandContext(ctx,
		"ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FrameRate),
		"-i", cfg.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// Driver opens V4L2 cameras
type Driver struct {
	logger *logrus.Logger
}

// NewDriver creates a V4L2 driver
func NewDriver(logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{logger: logger}
}

// Open starts ffmpeg for cfg. It returns as soon as the process runs; frames arrive later.
func (d *Driver) Open(ctx context.Context, cfg device.Config) (device.Handle, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("v4l2cam: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := CommandFactory(procCtx, cfg)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailLines}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	h := &Handle{
		cfg:    cfg,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		done:   make(chan struct{}),
		frames: framering.New[device.Frame](frameBufferSize),
		logger: d.logger.WithField("device", cfg.Device),
	}
	h.logger.WithField("pid", cmd.Process.Pid).Debug("v4l2cam: capture process started")

	groutine.Go(procCtx, "v4l2cam-"+cfg.Device, func(ctx context.Context) {
		h.readLoop(stdout)
	})

	return h, nil
}

// Handle is a running ffmpeg capture
type Handle struct {
	cfg     device.Config
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stderr  *tailBuffer
	done    chan struct{}
	frames  *framering.Ring[device.Frame]
	logger  *logrus.Entry
	running atomic.Bool
	current atomic.Pointer[device.Frame]
	seq     uint64

	closeOnce sync.Once
	waitErr   error
}

func (h *Handle) readLoop(r io.Reader) {
	defer close(h.done)

	buf := make([]byte, readChunkSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var frames [][]byte
			frames, pending = splitJPEG(pending)
			for _, data := range frames {
				h.publish(data)
			}
			if len(pending) > maxPendingBytes {
				h.logger.Warn("v4l2cam: discarding oversized partial frame")
				pending = pending[:0]
			}
		}
		if err != nil {
			h.running.Store(false)
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				h.logger.WithError(err).Debug("v4l2cam: read loop ended")
			}
			return
		}
	}
}

func (h *Handle) publish(data []byte) {
	h.seq++
	f := device.Frame{
		Data:      data,
		Width:     h.cfg.Width,
		Height:    h.cfg.Height,
		Seq:       h.seq,
		Timestamp: time.Now(),
	}
	h.current.Store(&f)
	h.frames.Publish(f)
	h.running.Store(true)
}

// splitJPEG extracts every complete JPEG image from data and returns the
// unconsumed remainder, starting at the last SOI marker when one is pending.
func splitJPEG(data []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, jpegSOI)
		if start < 0 {
			return frames, data[:0]
		}
		end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
		if end < 0 {
			return frames, append(data[:0:0], data[start:]...)
		}
		end += start + len(jpegSOI) + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)
		data = data[end:]
	}
}

// IsRunning reports whether at least one frame arrived and ffmpeg is still producing
func (h *Handle) IsRunning() bool {
	return h.running.Load()
}

// CurrentFrame returns the latest JPEG frame
func (h *Handle) CurrentFrame() device.Frame {
	if f := h.current.Load(); f != nil {
		return *f
	}
	return device.Frame{}
}

// Frames returns a drop-oldest stream of JPEG frames
func (h *Handle) Frames() <-chan device.Frame {
	return h.frames.C()
}

// Stop marks the handle not running and terminates ffmpeg
func (h *Handle) Stop() error {
	h.running.Store(false)
	h.cancel()
	return nil
}

// CloseTransport waits for ffmpeg and the reader to exit. A process killed by
// Stop is not reported as an error.
func (h *Handle) CloseTransport() error {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done
		err := h.cmd.Wait()
		h.frames.Close()

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			h.waitErr = fmt.Errorf("ffmpeg wait: %w", err)
		} else if err != nil {
			h.logger.WithField("stderr", h.stderr.String()).Debug("v4l2cam: ffmpeg exited")
		}
	})
	return h.waitErr
}

// tailBuffer keeps the last lines written to it
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := strings.Split(t.part+string(p), "\n")
	t.part = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line = strings.TrimSpace(line); line != "" {
			t.lines = append(t.lines, line)
		}
	}
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if t.part != "" {
		lines = append(lines[:len(lines):len(lines)], t.part)
	}
	return strings.Join(lines, "\n")
}
