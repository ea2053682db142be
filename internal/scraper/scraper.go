// Package scraper keeps the cached appliance snapshot and energy counter on
// the machine row fresh. The cache is advisory only.
package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
)

// Source is the part of the device gateway the poller reads.
type Source interface {
	device.Meter
	device.Appliance
}

// Service polls the devices on a fixed interval and persists what it sees.
type Service struct {
	cfg   config.ScraperConfig
	ttl   time.Duration
	store store.Store
	src   Source
	clock clock.Clock
	log   *zap.SugaredLogger
}

// NewService creates a poller. ttl is the age after which a cached
// snapshot is considered stale.
func NewService(cfg config.ScraperConfig, ttl time.Duration, s store.Store, src Source, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, ttl: ttl, store: s, src: src, clock: clk, log: log}
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("scraper is disabled, not starting")
		return
	}
	s.log.Infow("starting scraper", "interval", s.cfg.Interval)

	s.ScrapeOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scraper shutting down")
			return
		case <-timer.C:
			s.ScrapeOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// ScrapeOnce reads both devices once. A failed read keeps the previous
// value in place.
func (s *Service) ScrapeOnce(ctx context.Context) {
	if _, err := s.refreshSnapshot(ctx); err != nil {
		s.log.Warnw("appliance snapshot not updated", "err", err)
	}

	kwh, err := s.src.EnergyKWh(ctx)
	if err != nil {
		s.log.Warnw("energy reading failed", "err", err)
		return
	}
	if err := s.store.SaveEnergyReading(ctx, kwh, s.clock.Now()); err != nil {
		s.log.Errorw("failed to store energy reading", "err", err)
	}
}

func (s *Service) refreshSnapshot(ctx context.Context) (model.ApplianceSnapshot, error) {
	snap, err := s.src.ApplianceStatus(ctx)
	if err != nil {
		return model.ApplianceSnapshot{}, err
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.clock.Now()
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.log.Errorw("failed to store appliance snapshot", "err", err)
	}
	return snap, nil
}

// Snapshot returns the cached snapshot, refreshing it first when it is
// stale. If the appliance cannot be reached the stale copy is returned with
// stale set.
func (s *Service) Snapshot(ctx context.Context) (snap model.ApplianceSnapshot, stale bool, err error) {
	machine, err := s.store.GetMachine(ctx)
	if err != nil {
		return model.ApplianceSnapshot{}, false, err
	}
	if !machine.Appliance.Stale(s.clock.Now(), s.ttl) {
		return machine.Appliance, false, nil
	}
	fresh, err := s.refreshSnapshot(ctx)
	if err != nil {
		s.log.Debugw("serving stale appliance snapshot", "err", err)
		return machine.Appliance, true, nil
	}
	return fresh, false, nil
}
