// Package monitor watches the appliance during an open cycle, notifying the
// owner when it pauses or finishes and reminding them to stop the cycle.
package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/tasks"
)

// Notification titles sent by the orchestrator.
const (
	TitlePaused      = "Cycle paused"
	TitleEnded       = "Cycle ended"
	TitleReminder    = "Laundry waiting"
	TitleAutoStopped = "Cycle stopped"
)

// Stopper ends a cycle on behalf of its owner.
type Stopper interface {
	AutoStop(ctx context.Context, cycleID, userID int64) error
}

// UserLookup loads the cycle owner's preferences.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// Orchestrator runs one polling state machine per open cycle.
type Orchestrator struct {
	cfg       config.CycleConfig
	appliance device.Appliance
	users     UserLookup
	notifier  notification.Notifier
	sleeper   clock.Sleeper
	log       *zap.SugaredLogger
}

// New creates an orchestrator.
func New(cfg config.CycleConfig, appliance device.Appliance, users UserLookup, notifier notification.Notifier, sleeper clock.Sleeper, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		appliance: appliance,
		users:     users,
		notifier:  notifier,
		sleeper:   sleeper,
		log:       log,
	}
}

// Job returns the background job monitoring cycleID.
func (o *Orchestrator) Job(cycleID, ownerID int64, stopper Stopper) tasks.Job {
	return func(ctx context.Context) error {
		return o.Run(ctx, cycleID, ownerID, stopper)
	}
}

// Run polls the appliance until the cycle is auto-stopped, the reminders
// are exhausted, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, cycleID, ownerID int64, stopper Stopper) error {
	log := o.log.With("cycle", cycleID)

	// Give the user time to start a program before the first poll.
	if err := o.sleeper.Sleep(ctx, o.cfg.InitialGrace); err != nil {
		return err
	}

	var pending *model.ApplianceSnapshot
	for {
		var snap model.ApplianceSnapshot
		if pending != nil {
			snap, pending = *pending, nil
		} else {
			var err error
			snap, err = o.appliance.ApplianceStatus(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warnw("appliance poll failed", "err", err)
				if err := o.sleeper.Sleep(ctx, o.cfg.ShortPoll); err != nil {
					return err
				}
				continue
			}
		}

		wait := o.cfg.ShortPoll
		switch snap.MachineState {
		case model.StateRunning:
			wait = o.cfg.LongPoll
		case model.StatePaused:
			o.notifier.Notify(notification.To(ownerID),
				notification.NewWithURL(TitlePaused, "Your washing cycle has been paused.", "/"))
		case model.StateIdle, model.StateDelayedStart:
		case model.StateFinished:
			resumed, err := o.finished(ctx, log, cycleID, ownerID, stopper)
			if err != nil || resumed == nil {
				return err
			}
			pending = resumed
			continue
		default:
			log.Warnw("appliance reported an unexpected state", "state", snap.MachineState)
		}

		if err := o.sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// finished handles a completed program. It returns the snapshot that ended
// the escalation when the machine was started again, or nil when
// monitoring is over.
func (o *Orchestrator) finished(ctx context.Context, log *zap.SugaredLogger, cycleID, ownerID int64, stopper Stopper) (*model.ApplianceSnapshot, error) {
	o.notifier.Notify(notification.To(ownerID),
		notification.NewWithURL(TitleEnded, "Your washing cycle has ended. Please collect your laundry.", "/"))

	if o.autoStop(ctx, log, ownerID) {
		err := stopper.AutoStop(ctx, cycleID, ownerID)
		if err == nil {
			log.Info("cycle stopped automatically")
			o.notifier.Notify(notification.To(ownerID),
				notification.NewWithURL(TitleAutoStopped, "Your cycle was stopped automatically.", "/"))
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Errorw("automatic stop failed, reminding owner instead", "err", err)
	}

	return o.escalate(ctx, log, ownerID)
}

func (o *Orchestrator) autoStop(ctx context.Context, log *zap.SugaredLogger, ownerID int64) bool {
	owner, err := o.users.GetUser(ctx, ownerID)
	if err != nil {
		log.Warnw("failed to load cycle owner", "user", ownerID, "err", err)
		return false
	}
	return owner.AutoStopCycle
}

func (o *Orchestrator) escalate(ctx context.Context, log *zap.SugaredLogger, ownerID int64) (*model.ApplianceSnapshot, error) {
	if err := o.sleeper.Sleep(ctx, o.cfg.EscalationGrace); err != nil {
		return nil, err
	}

	for i := 1; i <= o.cfg.MaxReminders; i++ {
		snap, err := o.appliance.ApplianceStatus(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warnw("appliance poll failed during escalation", "err", err)
		case snap.MachineState != model.StateFinished:
			log.Infow("appliance left the finished state, resuming monitoring", "state", snap.MachineState)
			return &snap, nil
		}

		o.notifier.Notify(notification.To(ownerID), notification.NewWithURL(TitleReminder,
			fmt.Sprintf("Your laundry is waiting. Please stop your cycle (reminder %d of %d).", i, o.cfg.MaxReminders), "/"))

		if err := o.sleeper.Sleep(ctx, o.cfg.ReminderInterval); err != nil {
			return nil, err
		}
	}

	log.Infow("reminders exhausted, monitoring ends with the cycle still open", "reminders", o.cfg.MaxReminders)
	return nil, nil
}
