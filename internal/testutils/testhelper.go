package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/pkg/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Driver *FakeDriver
}

// NewTestHelper creates a test helper with a debug logger and an immediately-ready fake driver.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Driver: NewFakeDriver(),
	}
}

// TestConfig returns a small camera config suitable for tests
func TestConfig() device.Config {
	return device.Config{Device: "/dev/fake0", Width: 320, Height: 240, FrameRate: 15}
}

// FastPoll is a readiness poll interval that keeps tests quick
const FastPoll = 5 * time.Millisecond
