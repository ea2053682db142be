package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device/devicetest"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/store/storetest"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, store.Store, *devicetest.Fake, *clock.Fake) {
	s := store.NewGormStore(storetest.NewSQLite(t))
	gateway := devicetest.NewFake(42.5)
	clk := clock.NewFake(t0)
	cfg := config.ScraperConfig{Enabled: true, Interval: time.Minute}
	return NewService(cfg, 2*time.Minute, s, gateway, clk, zap.NewNop().Sugar()), s, gateway, clk
}

func TestScrapeOnce(t *testing.T) {
	svc, s, gateway, _ := newService(t)
	gateway.States = []model.MachineState{model.StateRunning}

	svc.ScrapeOnce(context.Background())

	machine, err := s.GetMachine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, machine.Appliance.MachineState)
	assert.True(t, machine.Appliance.FetchedAt.Equal(t0))
	assert.Equal(t, 42.5, machine.CurrentKWh)
	require.NotNil(t, machine.EnergyObservedAt)
	assert.True(t, machine.EnergyObservedAt.Equal(t0))
}

func TestScrapeOnce_KeepsPreviousValuesOnFailure(t *testing.T) {
	svc, s, gateway, _ := newService(t)
	gateway.States = []model.MachineState{model.StateRunning}
	svc.ScrapeOnce(context.Background())

	gateway.StatusErrs = map[int]error{1: devicetest.ErrOffline}
	gateway.MeterErr = devicetest.ErrOffline
	gateway.SetMeter(50)
	svc.ScrapeOnce(context.Background())

	machine, err := s.GetMachine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, machine.Appliance.MachineState)
	assert.Equal(t, 42.5, machine.CurrentKWh)
}

func TestSnapshot(t *testing.T) {
	svc, _, gateway, clk := newService(t)
	ctx := context.Background()
	gateway.States = []model.MachineState{model.StateIdle, model.StatePaused}

	// Nothing cached yet: fetched live.
	snap, stale, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, model.StateIdle, snap.MachineState)
	assert.Equal(t, 1, gateway.StatusPolls)

	// Fresh cache is served without polling.
	clk.Advance(time.Minute)
	snap, _, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, snap.MachineState)
	assert.Equal(t, 1, gateway.StatusPolls)

	// Stale and unreachable: the old copy is flagged.
	clk.Advance(5 * time.Minute)
	gateway.StatusErrs = map[int]error{1: devicetest.ErrOffline}
	snap, stale, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, model.StateIdle, snap.MachineState)

	// Reachable again.
	snap, stale, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, model.StatePaused, snap.MachineState)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	svc, _, gateway, _ := newService(t)
	svc.cfg.Enabled = false

	svc.Run(context.Background())
	assert.Equal(t, 0, gateway.StatusPolls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scraper did not stop")
	}
}
