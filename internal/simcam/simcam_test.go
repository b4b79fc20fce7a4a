package simcam

import (
	"context"
	"testing"
	"time"

	"github.com/srg/camshare/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_BecomesReadyAfterWarmup(t *testing.T) {
	drv := NewDriver(Options{Warmup: 50 * time.Millisecond}, nil)

	h, err := drv.Open(context.Background(), device.Config{Width: 8, Height: 4, FrameRate: 50})
	require.NoError(t, err)
	defer func() { _ = h.CloseTransport() }()

	assert.False(t, h.IsRunning(), "handle must not be running before warmup")
	assert.True(t, h.CurrentFrame().IsEmpty())

	require.Eventually(t, h.IsRunning, 2*time.Second, 10*time.Millisecond)

	f := h.CurrentFrame()
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Len(t, f.Data, 32)
	assert.Equal(t, int64(1), drv.Opens())
}

func TestHandle_TeardownIsIdempotent(t *testing.T) {
	drv := NewDriver(Options{Warmup: time.Millisecond}, nil)
	raw, err := drv.Open(context.Background(), device.Config{Width: 4, Height: 4, FrameRate: 100})
	require.NoError(t, err)
	h := raw.(*Handle)

	require.Eventually(t, h.IsRunning, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.False(t, h.IsRunning())

	require.NoError(t, h.CloseTransport())
	require.NoError(t, h.CloseTransport())
	assert.Equal(t, 2, h.StopCalls())
	assert.Equal(t, 2, h.CloseCalls())

	// the frame stream drains and then reports closed
	for range h.Frames() {
	}
}

func TestHandle_NeverReady(t *testing.T) {
	drv := NewDriver(Options{NeverReady: true}, nil)
	h, err := drv.Open(context.Background(), device.DefaultConfig())
	require.NoError(t, err)

	assert.Never(t, h.IsRunning, 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, h.CloseTransport())
}

func TestDriver_OpenRejectsInvalidConfig(t *testing.T) {
	drv := NewDriver(DefaultOptions(), nil)

	_, err := drv.Open(context.Background(), device.Config{Width: -1})
	assert.ErrorContains(t, err, "invalid width")
	assert.Equal(t, int64(0), drv.Opens())
}

func TestDriver_OpenHonoursCancelledContext(t *testing.T) {
	drv := NewDriver(DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := drv.Open(ctx, device.DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGradient(t *testing.T) {
	buf := gradient(3, 2, 1)
	assert.Equal(t, []byte{1, 2, 3, 2, 3, 4}, buf)
}
