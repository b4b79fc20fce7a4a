package device

import (
	"context"
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
)

// Config describes how a camera should be opened.
// Zero fields are filled from the `default` tags by WithDefaults.
type Config struct {
	Device    string `yaml:"device" default:"/dev/video0"`
	Width     int    `yaml:"width" default:"640"`
	Height    int    `yaml:"height" default:"480"`
	FrameRate int    `yaml:"frame_rate" default:"30"`
}

// DefaultConfig returns a Config populated from the default tags
func DefaultConfig() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// WithDefaults returns a copy of c with every unset field replaced by its default
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.FrameRate == 0 {
		c.FrameRate = d.FrameRate
	}
	return c
}

// Validate checks that the numeric parameters are positive
func (c Config) Validate() error {
	if c.Width <= 0 {
		return fmt.Errorf("invalid width: %d", c.Width)
	}
	if c.Height <= 0 {
		return fmt.Errorf("invalid height: %d", c.Height)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", c.FrameRate)
	}
	return nil
}

// FrameInterval returns the time between two frames at the configured rate
func (c Config) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.FrameRate)
}

func (c Config) String() string {
	return fmt.Sprintf("%s %dx%d@%d", c.Device, c.Width, c.Height, c.FrameRate)
}

// Frame is a single raw buffer delivered by a camera.
// Data is owned by the frame; handles never mutate a frame after publishing it.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// IsEmpty reports whether the frame carries no data yet
func (f Frame) IsEmpty() bool {
	return len(f.Data) == 0
}

// Handle is a live camera opened by a Driver.
//
// A handle exists as soon as Open returns but only reports IsRunning once the
// device actually streams frames. Stop and CloseTransport are idempotent.
type Handle interface {
	IsRunning() bool
	CurrentFrame() Frame
	Stop() error
	CloseTransport() error
}

// Driver opens camera handles
type Driver interface {
	Open(ctx context.Context, cfg Config) (Handle, error)
}

// DriverFunc adapts a plain function to the Driver interface
type DriverFunc func(ctx context.Context, cfg Config) (Handle, error)

// Open calls f(ctx, cfg)
func (f DriverFunc) Open(ctx context.Context, cfg Config) (Handle, error) {
	return f(ctx, cfg)
}
