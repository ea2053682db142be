package cycle

import (
	"context"
	"errors"

	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
)

// ReleaseDoor powers the machine briefly so its door unlocks. Only one
// release may be outstanding, and none while a cycle is open.
func (m *Manager) ReleaseDoor(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.Store.OpenCycle(ctx); err == nil {
		return errs.ErrAlreadyRunning
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if _, err := m.Registry.Start(ctx, model.TaskDoorRelease, nil, m.releaseDoor); err != nil {
		return err
	}
	m.log.Infow("door release requested", "user", user.ID)
	m.Events.Publish(broker.TopicMachine, broker.Event{Type: EventDoorReleased, UserID: &user.ID})
	return nil
}

func (m *Manager) releaseDoor(ctx context.Context) error {
	if err := m.Relay.ActivateWithRetry(ctx, device.On, m.cfg.RelayRetryAttempts, m.cfg.RelayRetryBackoff); err != nil {
		return err
	}
	if err := m.Sleeper.Sleep(ctx, m.cfg.DoorReleaseHold); err != nil {
		return err
	}

	// A start terminates this task while holding mu, so once mu is ours a
	// live context means no cycle was started through this process.
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.Store.OpenCycle(ctx); err == nil {
		m.log.Info("cycle opened during door release, leaving relay on")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return m.Relay.ActivateWithRetry(ctx, device.Off, m.cfg.RelayRetryAttempts, m.cfg.RelayRetryBackoff)
}
