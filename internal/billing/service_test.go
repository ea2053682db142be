package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/store/storetest"
	"laundry-share-backend/internal/tasks"
)

type serviceFixture struct {
	svc    *Service
	store  store.Store
	runner *tasks.GoroutineRunner
	admin  *model.User
	user   *model.User
}

func newServiceFixture(t *testing.T, sleeper clock.Sleeper) *serviceFixture {
	gdb := storetest.NewSQLite(t)
	s := store.NewGormStore(gdb)
	log := zap.NewNop().Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	runner := tasks.NewGoroutineRunner(ctx, log)
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})

	clk := clock.NewFake(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	cfg := config.BillingConfig{RecalculationGrace: time.Hour, PublicWashCost: 4.5}
	return &serviceFixture{
		svc:    NewService(cfg, s, tasks.NewRegistry(s, runner, log), clk, sleeper, log),
		store:  s,
		runner: runner,
		admin:  storetest.SeedUser(t, gdb, "admin", model.RoleAdmin),
		user:   storetest.SeedUser(t, gdb, "alice", model.RoleUser),
	}
}

func (f *serviceFixture) closeCycle(t *testing.T, start, end, cost float64, endTime time.Time) *model.Cycle {
	ctx := context.Background()
	c := &model.Cycle{UserID: &f.user.ID, StartKWh: start, StartTime: endTime.Add(-time.Hour)}
	require.NoError(t, f.store.CreateCycle(ctx, c))
	c.EndKWh, c.EndTime, c.Cost = ptr(end), ptr(endTime), ptr(cost)
	require.NoError(t, f.store.CloseCycle(ctx, c))
	return c
}

func TestService_UpdateRateRequiresAdmin(t *testing.T) {
	f := newServiceFixture(t, clock.NewFake(time.Now()))

	err := f.svc.UpdateRate(context.Background(), f.user, 0.5)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	err = f.svc.UpdateRate(context.Background(), f.admin, -1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestService_UpdateRateRecalculatesUnpaid(t *testing.T) {
	sleeper := clock.NewFake(time.Now())
	f := newServiceFixture(t, sleeper)
	ctx := context.Background()

	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	unpaid := f.closeCycle(t, 10, 12, 0.50, end)
	paid := f.closeCycle(t, 20, 22, 0.50, end.Add(time.Hour))
	require.NoError(t, f.store.MarkCyclePaid(ctx, paid.ID))

	require.NoError(t, f.svc.UpdateRate(ctx, f.admin, 0.40))
	f.runner.Wait()

	assert.Equal(t, []time.Duration{time.Hour}, sleeper.Sleeps())

	got, err := f.store.GetCycle(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.80, got.CostValue())
	got, err = f.store.GetCycle(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.50, got.CostValue())

	m, err := f.store.GetMachine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.40, m.CostPerKWh)
}

func TestService_CancelRecalculationDuringGrace(t *testing.T) {
	f := newServiceFixture(t, clock.Real{})
	ctx := context.Background()

	c := f.closeCycle(t, 10, 12, 0.50, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	require.NoError(t, f.svc.UpdateRate(ctx, f.admin, 0.40))
	// A second update while one is pending reuses it.
	require.NoError(t, f.svc.UpdateRate(ctx, f.admin, 0.45))

	assert.ErrorIs(t, f.svc.CancelRecalculation(ctx, f.user), errs.ErrForbidden)
	require.NoError(t, f.svc.CancelRecalculation(ctx, f.admin))
	f.runner.Wait()

	got, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.50, got.CostValue())

	assert.ErrorIs(t, f.svc.CancelRecalculation(ctx, f.admin), errs.ErrNotFound)
}

func TestService_DebtAndStatistics(t *testing.T) {
	f := newServiceFixture(t, clock.NewFake(time.Now()))
	ctx := context.Background()

	f.closeCycle(t, 0, 4, 1.00, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	f.closeCycle(t, 4, 5, 0.25, time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))

	debt, err := f.svc.Debt(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.25, debt)

	stats, err := f.svc.Statistics(ctx, f.user.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Feb", "Mar"}, stats.Cost.Labels)
	assert.Equal(t, []float64{0.25, 1.00}, stats.Cost.Data)
	assert.Equal(t, 1.00, stats.Month.Charges)
	assert.Equal(t, 3.50, stats.Month.Savings)

	_, err = f.svc.AdminStatistics(ctx, f.user, 12)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	usage, err := f.svc.AdminStatistics(ctx, f.admin, 12)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, 2, usage[1].Period)
	assert.Equal(t, 1, usage[1].LastMonth)
}
