package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/tasks"
)

// Service exposes rate management and per-user financial views.
type Service struct {
	cfg      config.BillingConfig
	store    store.Store
	registry *tasks.Registry
	clock    clock.Clock
	sleeper  clock.Sleeper
	log      *zap.SugaredLogger
}

// NewService creates a billing service.
func NewService(cfg config.BillingConfig, s store.Store, registry *tasks.Registry, clk clock.Clock, sleeper clock.Sleeper, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: s, registry: registry, clock: clk, sleeper: sleeper, log: log}
}

// UpdateRate stores a new price per kWh and schedules the recalculation of
// unpaid cycles. A recalculation that is already pending reads the rate when
// it runs, so it is reused rather than duplicated.
func (s *Service) UpdateRate(ctx context.Context, actor *model.User, rate float64) error {
	if !actor.IsAdmin() {
		return errs.ErrForbidden
	}
	if rate < 0 {
		return errs.New(errs.KindInvalidInput, "The rate cannot be negative")
	}
	if err := s.store.UpdateRate(ctx, rate); err != nil {
		return fmt.Errorf("failed to store rate: %w", err)
	}
	s.log.Infow("rate updated", "rate", rate, "by", actor.ID)

	_, err := s.registry.Start(ctx, model.TaskCostRecalculation, nil, s.recalculate)
	if errors.Is(err, errs.ErrDuplicateSingletonTask) {
		s.log.Info("cost recalculation already pending")
		return nil
	}
	return err
}

// CancelRecalculation terminates a pending recalculation, if any.
func (s *Service) CancelRecalculation(ctx context.Context, actor *model.User) error {
	if !actor.IsAdmin() {
		return errs.ErrForbidden
	}
	rec, err := s.registry.Lookup(ctx, model.TaskCostRecalculation, nil)
	if err != nil {
		return err
	}
	if rec == nil {
		return errs.New(errs.KindNotFound, "No cost recalculation is pending")
	}
	return s.registry.Terminate(ctx, tasks.Handle{ID: rec.ID, Kind: rec.Kind}, true)
}

// recalculate waits out the grace period, then reprices every closed,
// unpaid cycle at the rate in effect at that moment.
func (s *Service) recalculate(ctx context.Context) error {
	if err := s.sleeper.Sleep(ctx, s.cfg.RecalculationGrace); err != nil {
		return err
	}
	machine, err := s.store.GetMachine(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rate: %w", err)
	}
	cycles, err := s.store.ListUnpaidClosedCycles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load unpaid cycles: %w", err)
	}
	n, err := s.store.UpdateUnpaidCycleCosts(ctx, Recalculate(cycles, machine.CostPerKWh))
	if err != nil {
		return err
	}
	s.log.Infow("recalculated unpaid cycles", "count", n, "rate", machine.CostPerKWh)
	return nil
}

// Debt returns the unpaid total of userID.
func (s *Service) Debt(ctx context.Context, userID int64) (float64, error) {
	cycles, err := s.store.ListUserCycles(ctx, userID, time.Time{})
	if err != nil {
		return 0, err
	}
	return UnpaidTotal(cycles, userID), nil
}

// UserStatistics is the dashboard payload of one user.
type UserStatistics struct {
	Month MonthSummary `json:"month"`
	Cost  Series       `json:"cost"`
	Usage Series       `json:"usage"`
}

// Statistics returns the current-month summary and the last months series.
func (s *Service) Statistics(ctx context.Context, userID int64, months int) (*UserStatistics, error) {
	cycles, err := s.store.ListUserCycles(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return &UserStatistics{
		Month: Summarize(cycles, userID, now, s.cfg.PublicWashCost),
		Cost:  MonthlyCost(cycles, userID, now, months),
		Usage: MonthlyUsage(cycles, userID, now, months),
	}, nil
}

// AdminStatistics counts cycles per user over the last months*30 days.
func (s *Service) AdminStatistics(ctx context.Context, actor *model.User, months int) ([]UserUsage, error) {
	if !actor.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	if months <= 0 {
		months = 12
	}
	now := s.clock.Now()
	days := months * 30
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	cycles, err := s.store.ListClosedCycles(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	return UsageByUser(users, cycles, now, days), nil
}
