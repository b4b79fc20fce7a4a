package shared_test

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/srg/camshare/internal/testutils"
	"github.com/srg/camshare/pkg/device"
	"github.com/srg/camshare/pkg/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"
)

type ManagerTestSuite struct {
	suitelib.Suite
	helper  *testutils.TestHelper
	driver  *testutils.FakeDriver
	manager *shared.Manager
	ctx     context.Context
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.driver = suite.helper.Driver
	suite.manager = shared.New(suite.driver,
		shared.WithLogger(suite.helper.Logger),
		shared.WithPollInterval(testutils.FastPoll),
	)
	suite.ctx = context.Background()
}

func (suite *ManagerTestSuite) TearDownTest() {
	_ = suite.manager.Close()
}

func (suite *ManagerTestSuite) acquire() *shared.Lease {
	lease, err := suite.manager.Acquire(suite.ctx, testutils.TestConfig())
	suite.Require().NoError(err)
	suite.Require().NotNil(lease)
	return lease
}

func (suite *ManagerTestSuite) TestAcquireReleaseScenario() {
	suite.acquire()
	suite.acquire()
	suite.Equal(1, suite.driver.Opens())
	suite.Equal(2, suite.manager.RefCount())

	suite.manager.Release()

	h, err := suite.manager.Handle()
	suite.NoError(err)
	suite.Same(suite.driver.LastHandle(), h)
	suite.Equal(1, suite.manager.RefCount())
	suite.Equal(0, suite.driver.LastHandle().Stops(), "handle must stay open while held")

	suite.manager.Release()

	h, err = suite.manager.Handle()
	suite.Nil(h)
	suite.ErrorIs(err, device.ErrNotInitialized)
	suite.True(device.IsState(err, device.NotInitialized))
	suite.Equal(1, suite.driver.LastHandle().Stops())
	suite.Equal(1, suite.driver.LastHandle().Closes())
	suite.False(suite.manager.IsReady())
}

func (suite *ManagerTestSuite) TestReleaseWithoutAcquire() {
	suite.NotPanics(func() { suite.manager.Release() })
	suite.NotPanics(func() { suite.manager.Release() })

	suite.Equal(0, suite.manager.RefCount())
	suite.Equal(0, suite.driver.Opens())
	suite.Equal(shared.Stats{}, suite.manager.Stats())
	suite.Empty(suite.manager.DrainEvents())
}

func (suite *ManagerTestSuite) TestReleaseAfterEpochDoesNotTearDownAgain() {
	suite.acquire()
	suite.manager.Release()
	suite.manager.Release()

	h := suite.driver.LastHandle()
	suite.Equal(1, h.Stops())
	suite.Equal(1, h.Closes())
	suite.Equal(0, suite.manager.RefCount())
}

func (suite *ManagerTestSuite) TestHandleAndFrameBeforeAcquire() {
	_, err := suite.manager.Handle()
	suite.ErrorIs(err, device.ErrNotInitialized)

	frame, err := suite.manager.CurrentFrame()
	suite.ErrorIs(err, device.ErrNotInitialized)
	suite.True(frame.IsEmpty())

	_, err = suite.manager.Config()
	suite.ErrorIs(err, device.ErrNotInitialized)

	suite.False(suite.manager.IsReady())
}

func (suite *ManagerTestSuite) TestCurrentFrameWhileHeld() {
	lease := suite.acquire()
	suite.driver.LastHandle().SetFrame(device.Frame{Data: []byte{1, 2, 3}, Width: 3, Height: 1, Seq: 7})

	frame, err := suite.manager.CurrentFrame()
	suite.Require().NoError(err)
	suite.Equal(uint64(7), frame.Seq)
	suite.Equal([]byte{1, 2, 3}, frame.Data)

	viaLease, err := lease.CurrentFrame()
	suite.Require().NoError(err)
	suite.Equal(frame, viaLease)

	suite.Equal(1, suite.manager.RefCount(), "reading frames does not change the count")
}

func (suite *ManagerTestSuite) TestFirstAcquirerWinsConfiguration() {
	first := device.Config{Device: "/dev/fake0", Width: 1280, Height: 720, FrameRate: 30}
	second := device.Config{Device: "/dev/fake0", Width: 640, Height: 480, FrameRate: 15}

	_, err := suite.manager.Acquire(suite.ctx, first)
	suite.Require().NoError(err)
	_, err = suite.manager.Acquire(suite.ctx, second)
	suite.Require().NoError(err)

	suite.Equal([]device.Config{first}, suite.driver.Configs())

	active, err := suite.manager.Config()
	suite.Require().NoError(err)
	suite.Equal(first, active)
}

func (suite *ManagerTestSuite) TestUnsetConfigFieldsUseDefaults() {
	_, err := suite.manager.Acquire(suite.ctx, device.Config{Width: 800})
	suite.Require().NoError(err)

	want := device.DefaultConfig()
	want.Width = 800
	suite.Equal([]device.Config{want}, suite.driver.Configs())
}

func (suite *ManagerTestSuite) TestInvalidConfigDoesNotOpen() {
	_, err := suite.manager.Acquire(suite.ctx, device.Config{Width: -5})

	suite.ErrorContains(err, "invalid width")
	suite.Equal(0, suite.driver.Opens())
	suite.Equal(0, suite.manager.RefCount())
}

func (suite *ManagerTestSuite) TestOneOpenPerEpoch() {
	for epoch := 1; epoch <= 3; epoch++ {
		leases := []*shared.Lease{suite.acquire(), suite.acquire(), suite.acquire()}
		suite.Equal(epoch, suite.driver.Opens())
		for _, l := range leases {
			l.Release()
		}
		suite.Equal(0, suite.manager.RefCount())
	}

	for _, h := range suite.driver.Handles() {
		suite.Equal(1, h.Stops())
		suite.Equal(1, h.Closes())
	}
	suite.Equal(shared.Stats{Opens: 3, Closes: 3, Acquires: 9, Releases: 9}, suite.manager.Stats())
}

func (suite *ManagerTestSuite) TestConcurrentAcquire() {
	const consumers = 50
	suite.driver.ReadyAfter = 30 * time.Millisecond

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := suite.manager.Acquire(suite.ctx, testutils.TestConfig())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		suite.NoError(err)
	}
	suite.Equal(1, suite.driver.Opens())
	suite.Equal(consumers, suite.manager.RefCount())
	suite.Len(suite.manager.Holders(), consumers)
}

func (suite *ManagerTestSuite) TestConcurrentReleaseClosesOnce() {
	const consumers = 20
	leases := make([]*shared.Lease, consumers)
	for i := range leases {
		leases[i] = suite.acquire()
	}

	var wg sync.WaitGroup
	for _, l := range leases {
		wg.Add(2)
		go func(l *shared.Lease) {
			defer wg.Done()
			l.Release()
		}(l)
		go func() {
			defer wg.Done()
			suite.manager.Release()
		}()
	}
	wg.Wait()

	h := suite.driver.LastHandle()
	suite.Equal(0, suite.manager.RefCount())
	suite.Equal(1, h.Stops())
	suite.Equal(1, h.Closes())
}

func (suite *ManagerTestSuite) TestAcquireWaitsForReadiness() {
	suite.driver.ReadyAfter = 60 * time.Millisecond

	started := time.Now()
	suite.acquire()

	suite.GreaterOrEqual(time.Since(started), 60*time.Millisecond)
	suite.Greater(suite.driver.LastHandle().Polls(), 1)
	suite.True(suite.manager.IsReady())
}

func (suite *ManagerTestSuite) TestIsReadyDoesNotBlockDuringReadinessWait() {
	suite.driver.ReadyAfter = 200 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = suite.manager.Acquire(suite.ctx, testutils.TestConfig())
	}()

	suite.Eventually(func() bool { return suite.driver.Opens() == 1 }, time.Second, time.Millisecond)
	suite.False(suite.manager.IsReady())
	suite.Equal(0, suite.manager.RefCount())

	<-done
	suite.True(suite.manager.IsReady())
}

func (suite *ManagerTestSuite) TestReadyTimeout() {
	suite.driver.NeverReady = true
	m := shared.New(suite.driver,
		shared.WithLogger(suite.helper.Logger),
		shared.WithPollInterval(testutils.FastPoll),
		shared.WithReadyTimeout(50*time.Millisecond),
	)
	defer func() { _ = m.Close() }()

	lease, err := m.Acquire(suite.ctx, testutils.TestConfig())

	suite.Nil(lease)
	suite.ErrorIs(err, device.ErrDeviceNotReady)
	suite.ErrorIs(err, context.DeadlineExceeded)
	suite.Equal(0, m.RefCount())
	suite.False(m.IsReady())

	h := suite.driver.LastHandle()
	suite.Equal(1, h.Stops(), "unready handle must be torn down")
	suite.Equal(1, h.Closes())

	_, err = m.Handle()
	suite.ErrorIs(err, device.ErrNotInitialized)
}

func (suite *ManagerTestSuite) TestReadinessWaitHonoursContext() {
	suite.driver.NeverReady = true
	ctx, cancel := context.WithCancel(suite.ctx)
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := suite.manager.Acquire(ctx, testutils.TestConfig())

	suite.ErrorIs(err, device.ErrDeviceNotReady)
	suite.ErrorIs(err, context.Canceled)
	suite.Equal(0, suite.manager.RefCount())

	// a later acquirer gets a fresh device once it works again
	suite.driver.NeverReady = false
	suite.acquire()
	suite.Equal(2, suite.driver.Opens())
}

func (suite *ManagerTestSuite) TestOpenFailure() {
	suite.driver.OpenErr = errors.New("no such device")

	_, err := suite.manager.Acquire(suite.ctx, testutils.TestConfig())

	suite.ErrorContains(err, "no such device")
	suite.ErrorContains(err, "/dev/fake0")
	suite.Equal(0, suite.manager.RefCount())

	events := suite.manager.DrainEvents()
	suite.Require().Len(events, 1)
	suite.Equal(shared.EventOpenFailed, events[0].Kind)
}

func (suite *ManagerTestSuite) TestTeardownFailureStillResetsState() {
	suite.acquire()
	h := suite.driver.LastHandle()
	h.StopErr = errors.New("ioctl failed")
	h.CloseErr = errors.New("pipe busy")

	suite.manager.Release()

	suite.Equal(0, suite.manager.RefCount())
	suite.Equal(1, h.Closes(), "close is attempted even when stop fails")
	_, err := suite.manager.Handle()
	suite.ErrorIs(err, device.ErrNotInitialized)

	var teardownErrs int
	for _, ev := range suite.manager.DrainEvents() {
		if ev.Kind == shared.EventTeardownError {
			teardownErrs++
		}
	}
	suite.Equal(2, teardownErrs)

	suite.acquire()
	suite.Equal(2, suite.driver.Opens())
}

func (suite *ManagerTestSuite) TestSafetyNet() {
	suite.acquire()
	suite.acquire()

	suite.NoError(suite.manager.Close())
	suite.NoError(suite.manager.Close())

	h := suite.driver.LastHandle()
	suite.Equal(1, h.Stops())
	suite.Equal(1, h.Closes())
	suite.Equal(0, suite.manager.RefCount())
	suite.False(suite.manager.IsReady())

	_, err := suite.manager.Acquire(suite.ctx, testutils.TestConfig())
	suite.ErrorIs(err, shared.ErrClosed)

	var safetyNet int
	for _, ev := range suite.manager.DrainEvents() {
		if ev.Kind == shared.EventSafetyNet {
			safetyNet++
		}
	}
	suite.Equal(1, safetyNet)
}

func (suite *ManagerTestSuite) TestSafetyNetReturnsTeardownErrors() {
	suite.acquire()
	suite.driver.LastHandle().CloseErr = errors.New("device gone")

	err := suite.manager.Close()

	suite.ErrorContains(err, "close transport: device gone")
	suite.Equal(0, suite.manager.RefCount())
}

func (suite *ManagerTestSuite) TestCloseWithoutHandle() {
	suite.NoError(suite.manager.Close())
	suite.Equal(0, suite.driver.Opens())
	suite.Empty(suite.manager.DrainEvents())
}

func (suite *ManagerTestSuite) TestLeaseReleaseIsIdempotent() {
	a := suite.acquire()
	suite.acquire()

	a.Release()
	a.Release()
	a.Release()

	suite.Equal(1, suite.manager.RefCount())
	suite.Equal(0, suite.driver.LastHandle().Stops())
}

func (suite *ManagerTestSuite) TestStaleLeaseFromPreviousEpoch() {
	stale := suite.acquire()
	suite.manager.Release()
	suite.Equal(0, suite.manager.RefCount())

	suite.acquire()
	stale.Release()

	suite.Equal(1, suite.manager.RefCount(), "a lease from an ended epoch must not release the new one")
	suite.Equal(0, suite.driver.LastHandle().Stops())
}

func (suite *ManagerTestSuite) TestHolders() {
	vision, err := suite.manager.AcquireAs(suite.ctx, "vision", testutils.TestConfig())
	suite.Require().NoError(err)
	_, err = suite.manager.AcquireAs(suite.ctx, "preview", testutils.TestConfig())
	suite.Require().NoError(err)

	holders := suite.manager.Holders()
	suite.Require().Len(holders, 2)
	suite.Equal("vision", holders[0].Consumer)
	suite.Equal("preview", holders[1].Consumer)
	suite.Equal(vision.ID(), holders[0].ID)
	h, err := vision.Handle()
	suite.Require().NoError(err)
	suite.Same(suite.driver.LastHandle(), h)

	vision.Release()
	holders = suite.manager.Holders()
	suite.Require().Len(holders, 1)
	suite.Equal("preview", holders[0].Consumer)

	suite.manager.Release()
	suite.Empty(suite.manager.Holders())
}

func (suite *ManagerTestSuite) TestEventTrace() {
	a, err := suite.manager.AcquireAs(suite.ctx, "vision", testutils.TestConfig())
	suite.Require().NoError(err)
	b, err := suite.manager.AcquireAs(suite.ctx, "recording", testutils.TestConfig())
	suite.Require().NoError(err)
	b.Release()
	a.Release()

	var kinds []shared.EventKind
	var refs []int
	for _, ev := range suite.manager.DrainEvents() {
		kinds = append(kinds, ev.Kind)
		refs = append(refs, ev.Refs)
	}
	suite.Equal([]shared.EventKind{
		shared.EventOpened,
		shared.EventReady,
		shared.EventAcquired,
		shared.EventAcquired,
		shared.EventReleased,
		shared.EventReleased,
		shared.EventClosed,
	}, kinds)
	suite.Equal([]int{0, 0, 1, 2, 1, 0, 0}, refs)
	suite.Empty(suite.manager.DrainEvents())
}

func (suite *ManagerTestSuite) TestRandomSequencesKeepCountInvariant() {
	rng := rand.New(rand.NewSource(42))

	expected, opens := 0, 0
	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			if expected == 0 {
				opens++
			}
			suite.acquire()
			expected++
		} else {
			suite.manager.Release()
			if expected > 0 {
				expected--
			}
		}

		suite.Equal(expected, suite.manager.RefCount())
		_, err := suite.manager.Handle()
		if expected == 0 {
			suite.ErrorIs(err, device.ErrNotInitialized)
		} else {
			suite.NoError(err)
		}
	}
	suite.Equal(opens, suite.driver.Opens())
}

func TestManagerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ManagerTestSuite))
}

func (suite *ManagerTestSuite) TestLeaseHandleAfterRelease() {
	vision, err := suite.manager.AcquireAs(suite.ctx, "vision", testutils.TestConfig())
	suite.Require().NoError(err)
	preview, err := suite.manager.AcquireAs(suite.ctx, "preview", testutils.TestConfig())
	suite.Require().NoError(err)

	vision.Release()
	_, err = vision.Handle()
	suite.ErrorIs(err, device.ErrHandleClosed, "a released lease must not hand out the shared handle")

	h, err := preview.Handle()
	suite.Require().NoError(err)
	suite.Same(suite.driver.LastHandle(), h)

	// last holder gone: the torn down handle is never returned
	preview.Release()
	suite.Equal(1, suite.driver.LastHandle().Closes())
	_, err = preview.Handle()
	suite.ErrorIs(err, device.ErrHandleClosed)
}

func (suite *ManagerTestSuite) TestLeaseHandleAfterSafetyNet() {
	lease := suite.acquire()
	suite.Require().NoError(suite.manager.Close())

	_, err := lease.Handle()
	suite.ErrorIs(err, device.ErrHandleClosed)
}

func (suite *ManagerTestSuite) TestLeaseHandleOfEarlierEpoch() {
	old := suite.acquire()
	suite.manager.Release()
	suite.acquire()

	_, err := old.Handle()
	suite.ErrorIs(err, device.ErrHandleClosed, "a lease of an ended epoch must not see the new handle")
}

func TestManager_FinalizerTearsDownDroppedManager(t *testing.T) {
	drv := testutils.NewFakeDriver()

	func() {
		m := shared.New(drv, shared.WithPollInterval(testutils.FastPoll))
		_, err := m.Acquire(context.Background(), testutils.TestConfig())
		require.NoError(t, err)
		_, err = m.Acquire(context.Background(), testutils.TestConfig())
		require.NoError(t, err)
		require.Equal(t, 2, m.RefCount())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return drv.LastHandle().Closes() > 0
	}, 2*time.Second, 10*time.Millisecond, "dropped manager holding the camera must be torn down")

	h := drv.LastHandle()
	assert.Equal(t, 1, h.Stops())
	assert.Equal(t, 1, h.Closes())
	assert.Equal(t, 1, drv.Opens())
}

func TestManager_WithMockDriver(t *testing.T) {
	h := new(testutils.MockHandle)
	h.On("IsRunning").Return(false).Twice()
	h.On("IsRunning").Return(true)
	h.On("CurrentFrame").Return(device.Frame{Seq: 3})
	h.On("Stop").Return(nil).Once()
	h.On("CloseTransport").Return(nil).Once()

	drv := new(testutils.MockDriver)
	drv.On("Open", mock.Anything, mock.MatchedBy(func(cfg device.Config) bool {
		return cfg.Width == 320 && cfg.Height == 240
	})).Return(h, nil).Once()

	m := shared.New(drv, shared.WithPollInterval(time.Millisecond))

	lease, err := m.Acquire(context.Background(), testutils.TestConfig())
	require.NoError(t, err)

	frame, err := m.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), frame.Seq)

	lease.Release()
	require.NoError(t, m.Close())

	drv.AssertExpectations(t)
	h.AssertExpectations(t)
}

func TestNew_PanicsOnNilDriver(t *testing.T) {
	assert.Panics(t, func() { shared.New(nil) })
}
