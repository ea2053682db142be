// Package reservation books future timeslots on the machine and reminds
// their owners shortly before a slot begins.
package reservation

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
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/tasks"
)

// TitleReminder is the title of the notification sent before a slot.
const TitleReminder = "Reservation starting soon"

// Manager creates, moves and cancels reservations.
type Manager struct {
	cfg      config.ReservationConfig
	store    store.Store
	registry *tasks.Registry
	notifier notification.Notifier
	clock    clock.Clock
	log      *zap.SugaredLogger
}

// NewManager creates a reservation manager.
func NewManager(cfg config.ReservationConfig, s store.Store, registry *tasks.Registry, notifier notification.Notifier, clk clock.Clock, log *zap.SugaredLogger) *Manager {
	return &Manager{cfg: cfg, store: s, registry: registry, notifier: notifier, clock: clk, log: log}
}

func (m *Manager) validate(start, end time.Time) error {
	if !start.Before(end) {
		return errs.New(errs.KindInvalidInput, "The reservation must end after it starts")
	}
	if start.Before(m.clock.Now()) {
		return errs.New(errs.KindInvalidInput, "Reservations cannot start in the past")
	}
	return nil
}

// Create books [start, end) for user.
func (m *Manager) Create(ctx context.Context, user *model.User, start, end time.Time) (*model.Reservation, error) {
	if err := m.validate(start, end); err != nil {
		return nil, err
	}
	now := m.clock.Now()

	n, err := m.store.CountReservationRequests(ctx, user.ID, now.Add(-m.cfg.RequestWindow))
	if err != nil {
		return nil, err
	}
	if n >= int64(m.cfg.MaxRequests) {
		return nil, errs.ErrTooManyRequests
	}

	r := &model.Reservation{UserID: &user.ID, RequestedAt: now, StartTime: start.UTC(), EndTime: end.UTC()}
	if err := m.store.CreateReservation(ctx, r); err != nil {
		if errors.Is(err, store.ErrOverlap) {
			return nil, errs.ErrSlotConflict
		}
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	if err := m.schedule(ctx, r); err != nil {
		m.log.Errorw("failed to schedule reservation reminder", "reservation", r.ID, "err", err)
	}
	m.log.Infow("reservation created", "reservation", r.ID, "user", user.ID, "start", r.StartTime, "end", r.EndTime)
	return r, nil
}

// Update moves a reservation that has not started yet.
func (m *Manager) Update(ctx context.Context, actor *model.User, id int64, start, end time.Time) (*model.Reservation, error) {
	r, err := m.editable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := m.validate(start, end); err != nil {
		return nil, err
	}

	r.StartTime, r.EndTime = start.UTC(), end.UTC()
	if err := m.store.UpdateReservation(ctx, r); err != nil {
		if errors.Is(err, store.ErrOverlap) {
			return nil, errs.ErrSlotConflict
		}
		return nil, fmt.Errorf("failed to update reservation: %w", err)
	}

	if err := m.registry.TerminateKind(ctx, model.TaskReservationReminder, &r.ID); err != nil {
		m.log.Warnw("failed to terminate reservation reminder", "reservation", r.ID, "err", err)
	}
	if err := m.schedule(ctx, r); err != nil {
		m.log.Errorw("failed to reschedule reservation reminder", "reservation", r.ID, "err", err)
	}
	return r, nil
}

// Delete cancels a reservation that has not started yet.
func (m *Manager) Delete(ctx context.Context, actor *model.User, id int64) error {
	r, err := m.editable(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteReservation(ctx, r.ID); err != nil {
		return err
	}
	if err := m.registry.TerminateKind(ctx, model.TaskReservationReminder, &r.ID); err != nil {
		m.log.Warnw("failed to terminate reservation reminder", "reservation", r.ID, "err", err)
	}
	m.log.Infow("reservation deleted", "reservation", r.ID, "by", actor.ID)
	return nil
}

func (m *Manager) editable(ctx context.Context, actor *model.User, id int64) (*model.Reservation, error) {
	r, err := m.store.GetReservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "Reservation not found")
	}
	if err != nil {
		return nil, err
	}
	if !r.OwnedBy(actor.ID) && !actor.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	if !r.StartTime.After(m.clock.Now()) {
		return nil, errs.New(errs.KindInvalidInput, "Reservations that have already started cannot be changed")
	}
	return r, nil
}

// List returns current and upcoming reservations.
func (m *Manager) List(ctx context.Context) ([]model.Reservation, error) {
	return m.store.ListReservations(ctx, m.clock.Now())
}

// Resume re-schedules reminders of upcoming reservations after a restart.
// The task ledger must have been purged first.
func (m *Manager) Resume(ctx context.Context) error {
	rs, err := m.List(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	scheduled := 0
	for i := range rs {
		if !rs[i].StartTime.After(now) {
			continue
		}
		if err := m.schedule(ctx, &rs[i]); err != nil {
			return err
		}
		scheduled++
	}
	if scheduled > 0 {
		m.log.Infow("resumed reservation reminders", "count", scheduled)
	}
	return nil
}

func (m *Manager) schedule(ctx context.Context, r *model.Reservation) error {
	eta := r.StartTime.Add(-m.cfg.ReminderLead)
	h, err := m.registry.StartAt(ctx, model.TaskReservationReminder, &r.ID, eta, m.remind(r.ID))
	if err != nil {
		return err
	}
	r.ReminderTaskID = &h.ID
	return m.store.SetReservationTask(ctx, r.ID, &h.ID)
}

func (m *Manager) remind(id int64) tasks.Job {
	return func(ctx context.Context) error {
		r, err := m.store.GetReservation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.UserID == nil {
			return nil
		}
		body := fmt.Sprintf("Your reservation starts at %s.", r.StartTime.Local().Format("15:04"))
		m.notifier.Notify(notification.To(*r.UserID), notification.NewWithURL(TitleReminder, body, "/reservations"))
		return nil
	}
}
