package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/cycle"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/device/devicetest"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/monitor"
	"laundry-share-backend/internal/notification/notificationtest"
	"laundry-share-backend/internal/relay"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/store/storetest"
	"laundry-share-backend/internal/tasks"
)

// gateSleeper blocks every sleep until the gate is opened.
type gateSleeper struct {
	gate chan struct{}
}

func (g gateSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-g.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestCycleLifecycle drives a cycle from start to automatic stop through the
// real monitor, registry and store, then checks billing and the next start.
func TestCycleLifecycle(t *testing.T) {
	gdb := storetest.NewSQLite(t)
	s := store.NewGormStore(gdb)
	log := zap.NewNop().Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	runner := tasks.NewGoroutineRunner(ctx, log)
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	now := time.Now().UTC()
	clk := clock.NewFake(now)
	gateway := devicetest.NewFake(10.0)
	gateway.States = []model.MachineState{model.StateRunning, model.StateFinished}
	notifier := &notificationtest.Recorder{}
	registry := tasks.NewRegistry(s, runner, log)
	sleeper := gateSleeper{gate: make(chan struct{})}

	cycles := cycle.NewManager(cfg.Cycle, cycle.Deps{
		Store:    s,
		Relay:    relay.NewController(gateway, clk, log),
		Meter:    gateway,
		Registry: registry,
		Monitor:  monitor.New(cfg.Cycle, gateway, s, notifier, sleeper, log),
		Notifier: notifier,
		Events:   broker.NewBroker(),
		Clock:    clk,
		Sleeper:  clk,
	}, log)
	billingSvc := billing.NewService(cfg.Billing, s, registry, clk, clk, log)

	storetest.SetRate(t, gdb, 0.25)
	alice := storetest.SeedUser(t, gdb, "alice", model.RoleUser)
	bob := storetest.SeedUser(t, gdb, "bob", model.RoleUser)
	require.NoError(t, gdb.Model(alice).Update("auto_stop_cycle", true).Error)

	var started *model.Cycle
	t.Run("start powers the machine and registers a monitor", func(t *testing.T) {
		var err error
		started, err = cycles.Start(ctx, alice)
		require.NoError(t, err)
		assert.True(t, gateway.IsOn())
		assert.Equal(t, 10.0, started.StartKWh)

		rec, err := s.FindTaskRecord(ctx, model.TaskCycleMonitor, &started.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskCycleMonitor, rec.Kind)

		_, err = cycles.Start(ctx, bob)
		assert.Error(t, err)
	})
	require.NotNil(t, started)

	t.Run("finished program stops the cycle automatically", func(t *testing.T) {
		gateway.SetMeter(11.2)
		close(sleeper.gate)

		require.Eventually(t, func() bool {
			c, err := s.GetCycle(ctx, started.ID)
			return err == nil && c.EndTime != nil
		}, 5*time.Second, 10*time.Millisecond)

		c, err := s.GetCycle(ctx, started.ID)
		require.NoError(t, err)
		require.NotNil(t, c.Cost)
		assert.InDelta(t, 0.30, *c.Cost, 1e-9)
		assert.InDelta(t, 11.2, *c.EndKWh, 1e-9)
		assert.Nil(t, c.OpenSlot)
		assert.False(t, gateway.IsOn())
		assert.Equal(t, []device.Mode{device.On, device.Off}, gateway.Calls())

		require.Eventually(t, func() bool {
			_, err := s.FindTaskRecord(ctx, model.TaskCycleMonitor, &started.ID)
			return errors.Is(err, store.ErrNotFound)
		}, 5*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			return len(notifier.Titled(monitor.TitleAutoStopped)) == 1
		}, 5*time.Second, 10*time.Millisecond)
		assert.Len(t, notifier.Titled(monitor.TitleEnded), 1)
	})

	t.Run("owner owes the cycle cost", func(t *testing.T) {
		debt, err := billingSvc.Debt(ctx, alice.ID)
		require.NoError(t, err)
		assert.InDelta(t, 0.30, debt, 1e-9)

		history, err := cycles.History(ctx, alice)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, started.ID, history[0].ID)
	})

	t.Run("machine is free for the next user", func(t *testing.T) {
		gateway.States = []model.MachineState{model.StateRunning}
		next, err := cycles.Start(ctx, bob)
		require.NoError(t, err)
		assert.NotEqual(t, started.ID, next.ID)
		assert.InDelta(t, 11.2, next.StartKWh, 1e-9)

		_, err = cycles.Stop(ctx, bob)
		require.NoError(t, err)
	})
}
