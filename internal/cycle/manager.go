// Package cycle owns the shared machine: starting and stopping cycles, the
// split and payment workflow on closed cycles, and door release.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/monitor"
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/relay"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/tasks"
)

// Event types published on broker.TopicMachine.
const (
	EventStarted      = "cycle_started"
	EventStopped      = "cycle_stopped"
	EventDoorReleased = "door_released"
)

// Availability of the machine as seen by one user.
const (
	StateAvailable   = "available"
	StateRunning     = "running"
	StateUnavailable = "unavailable"
)

// Status tells a user whether they may start, are running, or must wait.
type Status struct {
	State   string `json:"state"`
	CycleID *int64 `json:"cycleId,omitempty"`
	Owner   string `json:"owner,omitempty"`
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store    store.Store
	Relay    *relay.Controller
	Meter    device.Meter
	Registry *tasks.Registry
	Monitor  *monitor.Orchestrator
	Notifier notification.Notifier
	Events   *broker.Broker
	Clock    clock.Clock
	Sleeper  clock.Sleeper
}

// Manager implements the cycle lifecycle. Start, stop and door release are
// serialised by mu within the process; the store's unique open-cycle index
// covers other processes.
type Manager struct {
	cfg config.CycleConfig
	Deps
	log *zap.SugaredLogger

	mu sync.Mutex
}

// NewManager creates a cycle manager.
func NewManager(cfg config.CycleConfig, deps Deps, log *zap.SugaredLogger) *Manager {
	return &Manager{cfg: cfg, Deps: deps, log: log}
}

// Status reports the machine availability for user.
func (m *Manager) Status(ctx context.Context, user *model.User) (Status, error) {
	open, err := m.Store.OpenCycle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Status{State: StateAvailable}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if open.OwnedBy(user.ID) {
		return Status{State: StateRunning, CycleID: &open.ID}, nil
	}
	owner := "a deleted user"
	if open.User != nil {
		owner = open.User.DisplayName()
	}
	return Status{State: StateUnavailable, Owner: owner}, nil
}

// Start powers the machine and opens a cycle for user.
func (m *Manager) Start(ctx context.Context, user *model.User) (*model.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.Store.OpenCycle(ctx); err == nil {
		return nil, errs.ErrAlreadyRunning
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := m.Clock.Now()
	if m.cfg.RequireReservation && !user.SchedulingExempt() {
		_, err := m.Store.ReservationCovering(ctx, user.ID, now)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrSchedulingRequired
		}
		if err != nil {
			return nil, err
		}
	}

	if err := m.Relay.Activate(ctx, device.On); err != nil {
		return nil, err
	}

	kwh, err := m.Meter.EnergyKWh(ctx)
	if err != nil {
		m.compensate(ctx, "energy reading failed")
		return nil, err
	}

	c := &model.Cycle{UserID: &user.ID, StartKWh: kwh, StartTime: now}
	if err := m.Store.CreateCycle(ctx, c); err != nil {
		if errors.Is(err, store.ErrOpenCycleExists) {
			// The machine belongs to whoever won the race; leave it powered.
			return nil, errs.ErrAlreadyRunning
		}
		m.compensate(ctx, "cycle could not be stored")
		return nil, fmt.Errorf("failed to create cycle: %w", err)
	}

	if err := m.watch(ctx, c, user.ID); err != nil {
		if derr := m.Store.DeleteCycle(ctx, c.ID); derr != nil {
			m.log.Errorw("failed to roll back cycle", "cycle", c.ID, "err", derr)
		}
		m.compensate(ctx, "monitor could not be registered")
		return nil, err
	}

	if err := m.Registry.TerminateKind(ctx, model.TaskDoorRelease, nil); err != nil {
		m.log.Warnw("failed to terminate door release", "err", err)
	}

	m.log.Infow("cycle started", "cycle", c.ID, "user", user.ID, "kwh", kwh)
	m.Events.Publish(broker.TopicMachine, broker.Event{Type: EventStarted, CycleID: c.ID, UserID: &user.ID})
	return c, nil
}

// watch registers the monitor of c and records its handle on the cycle.
func (m *Manager) watch(ctx context.Context, c *model.Cycle, ownerID int64) error {
	h, err := m.Registry.Start(ctx, model.TaskCycleMonitor, &c.ID, m.Monitor.Job(c.ID, ownerID, m))
	if err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	if err := m.Store.SetCycleMonitorTask(ctx, c.ID, &h.ID); err != nil {
		if terr := m.Registry.Terminate(context.WithoutCancel(ctx), h, true); terr != nil {
			m.log.Errorw("failed to terminate orphaned monitor", "cycle", c.ID, "task", h.ID, "err", terr)
		}
		return fmt.Errorf("failed to record monitor: %w", err)
	}
	c.MonitorTaskID = &h.ID
	return nil
}

// compensate switches the relay off after a start failed past power-on.
func (m *Manager) compensate(ctx context.Context, reason string) {
	if err := m.Relay.Activate(context.WithoutCancel(ctx), device.Off); err != nil {
		m.log.Errorw("start failed and the relay could not be switched off, machine may be powered",
			"reason", reason, "err", err)
		return
	}
	m.log.Warnw("start failed, relay switched off again", "reason", reason)
}

// Stop closes the open cycle of user.
func (m *Manager) Stop(ctx context.Context, user *model.User) (*model.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.Store.OpenCycle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrNoActiveCycle
	}
	if err != nil {
		return nil, err
	}
	if !open.OwnedBy(user.ID) {
		return nil, errs.ErrNoActiveCycle
	}
	return m.stop(ctx, open)
}

// AutoStop stops cycleID on behalf of its owner. It is called by the
// cycle's own monitor.
func (m *Manager) AutoStop(ctx context.Context, cycleID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.Store.OpenCycle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return errs.ErrNoActiveCycle
	}
	if err != nil {
		return err
	}
	if open.ID != cycleID || !open.OwnedBy(userID) {
		return errs.ErrNoActiveCycle
	}
	_, err = m.stop(ctx, open)
	return err
}

func (m *Manager) stop(ctx context.Context, c *model.Cycle) (*model.Cycle, error) {
	if err := m.Relay.Activate(ctx, device.Off); err != nil {
		return nil, err
	}

	kwh, err := m.Meter.EnergyKWh(ctx)
	if err != nil {
		return nil, err
	}
	machine, err := m.Store.GetMachine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate: %w", err)
	}

	now := m.Clock.Now()
	cost := billing.Cost(c.StartKWh, kwh, machine.CostPerKWh)
	c.EndKWh = &kwh
	c.EndTime = &now
	c.Cost = &cost
	c.MonitorTaskID = nil

	if cost <= 0 {
		if err := m.Store.DeleteCycle(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("failed to discard cycle: %w", err)
		}
		m.log.Infow("cycle discarded, no energy was billed", "cycle", c.ID)
	} else {
		if err := m.Store.CloseCycle(ctx, c); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errs.ErrNoActiveCycle
			}
			return nil, fmt.Errorf("failed to close cycle: %w", err)
		}
		m.log.Infow("cycle stopped", "cycle", c.ID, "kwh", kwh-c.StartKWh, "cost", cost)
	}

	// The monitor may be the caller; its context is about to be cancelled.
	if err := m.Registry.TerminateKind(context.WithoutCancel(ctx), model.TaskCycleMonitor, &c.ID); err != nil {
		m.log.Warnw("failed to terminate monitor", "cycle", c.ID, "err", err)
	}

	m.Events.Publish(broker.TopicMachine, broker.Event{Type: EventStopped, CycleID: c.ID, UserID: c.UserID})
	return c, nil
}

// History returns the closed cycles user owns or takes part in.
func (m *Manager) History(ctx context.Context, user *model.User) ([]model.Cycle, error) {
	return m.Store.ListUserCycles(ctx, user.ID, time.Time{})
}

// Resume re-registers the monitor of a cycle left open by a previous
// process. The task ledger must have been purged first.
func (m *Manager) Resume(ctx context.Context) error {
	open, err := m.Store.OpenCycle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if open.UserID == nil {
		m.log.Warnw("open cycle has no owner, not monitoring it", "cycle", open.ID)
		return nil
	}
	if err := m.watch(ctx, open, *open.UserID); err != nil {
		return err
	}
	m.log.Infow("resumed monitoring of open cycle", "cycle", open.ID)
	return nil
}
