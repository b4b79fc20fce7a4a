package testutils

import (
	"context"

	"github.com/srg/camshare/pkg/device"
	"github.com/stretchr/testify/mock"
)

// MockDriver is a testify mock of device.Driver for expectation-driven tests
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Open(ctx context.Context, cfg device.Config) (device.Handle, error) {
	args := m.Called(ctx, cfg)
	h, _ := args.Get(0).(device.Handle)
	return h, args.Error(1)
}

// MockHandle is a testify mock of device.Handle
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) IsRunning() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockHandle) CurrentFrame() device.Frame {
	args := m.Called()
	return args.Get(0).(device.Frame)
}

func (m *MockHandle) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockHandle) CloseTransport() error {
	args := m.Called()
	return args.Error(0)
}
