package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/device/devicetest"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/monitor"
	"laundry-share-backend/internal/notification/notificationtest"
	"laundry-share-backend/internal/relay"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/store/storetest"
	"laundry-share-backend/internal/tasks"
)

var testNow = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

type fixture struct {
	mgr      *Manager
	gdb      *gorm.DB
	store    store.Store
	gateway  *devicetest.Fake
	notifier *notificationtest.Recorder
	events   *broker.Broker
	runner   *tasks.GoroutineRunner
	alice    *model.User
	bob      *model.User
	carol    *model.User
	admin    *model.User
}

func newFixture(t *testing.T, mutate func(*config.CycleConfig)) *fixture {
	gdb := storetest.NewSQLite(t)
	s := store.NewGormStore(gdb)
	log := zap.NewNop().Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	runner := tasks.NewGoroutineRunner(ctx, log)
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})

	cfg := config.CycleConfig{
		InitialGrace:       time.Hour, // monitors stay asleep for the whole test
		LongPoll:           5 * time.Minute,
		ShortPoll:          time.Minute,
		EscalationGrace:    10 * time.Minute,
		ReminderInterval:   5 * time.Minute,
		MaxReminders:       10,
		DoorReleaseHold:    2 * time.Minute,
		RelayRetryAttempts: 3,
		RelayRetryBackoff:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	gateway := devicetest.NewFake(10.0)
	notifier := &notificationtest.Recorder{}
	events := broker.NewBroker()
	sleeper := clock.NewFake(testNow)

	orch := monitor.New(cfg, gateway, s, notifier, clock.Real{}, log)
	mgr := NewManager(cfg, Deps{
		Store:    s,
		Relay:    relay.NewController(gateway, sleeper, log),
		Meter:    gateway,
		Registry: tasks.NewRegistry(s, runner, log),
		Monitor:  orch,
		Notifier: notifier,
		Events:   events,
		Clock:    clock.NewFake(testNow),
		Sleeper:  sleeper,
	}, log)

	storetest.SetRate(t, gdb, 0.25)
	return &fixture{
		mgr:      mgr,
		gdb:      gdb,
		store:    s,
		gateway:  gateway,
		notifier: notifier,
		events:   events,
		runner:   runner,
		alice:    storetest.SeedUser(t, gdb, "alice", model.RoleUser),
		bob:      storetest.SeedUser(t, gdb, "bob", model.RoleUser),
		carol:    storetest.SeedUser(t, gdb, "carol", model.RoleUser),
		admin:    storetest.SeedUser(t, gdb, "admin", model.RoleAdmin),
	}
}

func (f *fixture) closedCycle(t *testing.T, owner *model.User, cost float64) *model.Cycle {
	ctx := context.Background()
	c := &model.Cycle{UserID: &owner.ID, StartKWh: 1, StartTime: testNow.Add(-2 * time.Hour)}
	require.NoError(t, f.store.CreateCycle(ctx, c))
	end, endTime := 2.0, testNow.Add(-time.Hour)
	c.EndKWh, c.EndTime, c.Cost = &end, &endTime, &cost
	require.NoError(t, f.store.CloseCycle(ctx, c))
	return c
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	events := f.events.Subscribe(broker.TopicMachine)

	c, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 10.0, c.StartKWh)
	assert.True(t, f.gateway.IsOn())
	assert.Equal(t, EventStarted, (<-events).Type)

	rec, err := f.store.FindTaskRecord(ctx, model.TaskCycleMonitor, &c.ID)
	require.NoError(t, err)
	require.NotNil(t, c.MonitorTaskID)
	assert.Equal(t, rec.ID, *c.MonitorTaskID)

	st, err := f.mgr.Status(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	st, err = f.mgr.Status(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateUnavailable, Owner: "alice"}, st)

	_, err = f.mgr.Stop(ctx, f.bob)
	assert.ErrorIs(t, err, errs.ErrNoActiveCycle)

	f.gateway.SetMeter(11.2)
	stopped, err := f.mgr.Stop(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 0.30, stopped.CostValue())
	assert.False(t, f.gateway.IsOn())
	assert.Equal(t, EventStopped, (<-events).Type)

	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Nil(t, stored.MonitorTaskID)

	_, err = f.store.FindTaskRecord(ctx, model.TaskCycleMonitor, &c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	st, err = f.mgr.Status(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, st.State)
}

func TestStart_AlreadyRunning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)

	_, err = f.mgr.Start(ctx, f.bob)
	assert.ErrorIs(t, err, errs.ErrAlreadyRunning)
	_, err = f.mgr.Start(ctx, f.alice)
	assert.ErrorIs(t, err, errs.ErrAlreadyRunning)
	assert.Equal(t, []device.Mode{device.On}, f.gateway.Calls())
}

func TestStart_ConcurrentCallsAllowOneCycle(t *testing.T) {
	f := newFixture(t, nil)
	users := []*model.User{f.alice, f.bob, f.carol, f.admin}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			_, err := f.mgr.Start(context.Background(), u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, errs.ErrAlreadyRunning):
				rejected++
			}
		}(users[i%len(users)])
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, rejected)
}

func TestStart_RelayFailureCreatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.gateway.SetRelayFails(1)

	_, err := f.mgr.Start(ctx, f.alice)
	assert.ErrorIs(t, err, errs.ErrRelayFailure)

	_, err = f.store.OpenCycle(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStart_MeterFailureSwitchesRelayOff(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.gateway.MeterErr = devicetest.ErrOffline

	_, err := f.mgr.Start(ctx, f.alice)
	assert.ErrorIs(t, err, errs.ErrDeviceUnavailable)
	assert.Equal(t, []device.Mode{device.On, device.Off}, f.gateway.Calls())

	_, err = f.store.OpenCycle(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type failingMonitorStore struct {
	store.Store
}

func (failingMonitorStore) SetCycleMonitorTask(ctx context.Context, cycleID int64, taskID *string) error {
	return errors.New("disk full")
}

func TestStart_MonitorBookkeepingFailureCleansUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	deps := f.mgr.Deps
	deps.Store = failingMonitorStore{Store: f.store}
	mgr := NewManager(f.mgr.cfg, deps, zap.NewNop().Sugar())

	_, err := mgr.Start(ctx, f.alice)
	require.Error(t, err)
	assert.Equal(t, []device.Mode{device.On, device.Off}, f.gateway.Calls())

	_, err = f.store.OpenCycle(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var ledger []model.TaskRecord
	require.NoError(t, f.gdb.Find(&ledger).Error)
	assert.Empty(t, ledger)
}

func TestStart_RequiresReservation(t *testing.T) {
	f := newFixture(t, func(c *config.CycleConfig) { c.RequireReservation = true })
	ctx := context.Background()

	_, err := f.mgr.Start(ctx, f.alice)
	assert.ErrorIs(t, err, errs.ErrSchedulingRequired)
	assert.Empty(t, f.gateway.Calls())

	require.NoError(t, f.store.CreateReservation(ctx, &model.Reservation{
		UserID:      &f.alice.ID,
		RequestedAt: testNow.Add(-24 * time.Hour),
		StartTime:   testNow.Add(-30 * time.Minute),
		EndTime:     testNow.Add(30 * time.Minute),
	}))
	_, err = f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)
}

func TestStart_AdminIsExemptFromReservations(t *testing.T) {
	f := newFixture(t, func(c *config.CycleConfig) { c.RequireReservation = true })

	_, err := f.mgr.Start(context.Background(), f.admin)
	require.NoError(t, err)
}

func TestStop_ZeroCostDiscardsCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)

	stopped, err := f.mgr.Stop(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stopped.CostValue())

	_, err = f.store.GetCycle(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.FindTaskRecord(ctx, model.TaskCycleMonitor, &c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.mgr.Start(ctx, f.bob)
	assert.NoError(t, err)
}

func TestStop_SubCentCostDiscardsCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)
	f.gateway.SetMeter(10.01) // 0.0025 before rounding

	stopped, err := f.mgr.Stop(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stopped.CostValue())
	assert.False(t, f.gateway.IsOn())

	_, err = f.store.GetCycle(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	history, err := f.store.ListUserCycles(ctx, f.alice.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStop_RelayFailureKeepsCycleOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)
	f.gateway.SetRelayFails(1)

	_, err = f.mgr.Stop(ctx, f.alice)
	assert.ErrorIs(t, err, errs.ErrRelayFailure)

	open, err := f.store.OpenCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, open.ID)
}

func TestAutoStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.mgr.Start(ctx, f.alice)
	require.NoError(t, err)
	f.gateway.SetMeter(12)

	assert.ErrorIs(t, f.mgr.AutoStop(ctx, c.ID+1, f.alice.ID), errs.ErrNoActiveCycle)
	assert.ErrorIs(t, f.mgr.AutoStop(ctx, c.ID, f.bob.ID), errs.ErrNoActiveCycle)
	require.NoError(t, f.mgr.AutoStop(ctx, c.ID, f.alice.ID))

	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, stored.CostValue())
}

func TestResume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c := &model.Cycle{UserID: &f.alice.ID, StartKWh: 3, StartTime: testNow}
	require.NoError(t, f.store.CreateCycle(ctx, c))

	require.NoError(t, f.mgr.Resume(ctx))

	rec, err := f.store.FindTaskRecord(ctx, model.TaskCycleMonitor, &c.ID)
	require.NoError(t, err)
	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MonitorTaskID)
	assert.Equal(t, rec.ID, *stored.MonitorTaskID)
}

func TestResume_NoOpenCycle(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.mgr.Resume(context.Background()))
}
