package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
)

// Handle identifies a started task.
type Handle struct {
	ID    string
	Kind  model.TaskKind
	RefID *int64
}

// Registry pairs the durable ledger with the runner. Ledger writes are
// transactional; cancellation is fire-and-forget, so a terminated job may
// keep running briefly until it next observes its context.
type Registry struct {
	store  store.Store
	runner Runner
	log    *zap.SugaredLogger
}

// NewRegistry creates a task registry.
func NewRegistry(s store.Store, runner Runner, log *zap.SugaredLogger) *Registry {
	return &Registry{store: s, runner: runner, log: log}
}

// Start records and immediately runs job.
func (r *Registry) Start(ctx context.Context, kind model.TaskKind, refID *int64, job Job) (Handle, error) {
	return r.StartAt(ctx, kind, refID, time.Time{}, job)
}

// StartAt records job and runs it at eta. Singleton kinds fail with
// DUPLICATE_SINGLETON_TASK while another one is outstanding.
func (r *Registry) StartAt(ctx context.Context, kind model.TaskKind, refID *int64, eta time.Time, job Job) (Handle, error) {
	h := Handle{ID: uuid.NewString(), Kind: kind, RefID: refID}

	err := r.store.CreateTaskRecord(ctx, &model.TaskRecord{ID: h.ID, Kind: kind, RefID: refID})
	if errors.Is(err, store.ErrSingletonExists) {
		return Handle{}, errs.Wrap(errs.KindDuplicateSingletonTask, errs.ErrDuplicateSingletonTask.Message, err)
	}
	if err != nil {
		return Handle{}, fmt.Errorf("failed to record %s task: %w", kind, err)
	}

	r.log.Debugw("task started", "task", h.ID, "kind", kind, "ref", refID, "eta", eta)
	r.runner.Submit(h.ID, eta, job, func(err error) { r.finished(h, err) })
	return h, nil
}

// finished clears the ledger row of a job that ran to completion. Cancelled
// jobs are left to whoever terminated them.
func (r *Registry) finished(h Handle, err error) {
	if errors.Is(err, context.Canceled) {
		r.log.Debugw("task cancelled", "task", h.ID, "kind", h.Kind)
		return
	}
	if err != nil {
		r.log.Errorw("task failed", "task", h.ID, "kind", h.Kind, "err", err)
	}
	if derr := r.store.DeleteTaskRecord(context.Background(), h.ID); derr != nil {
		r.log.Errorw("failed to clear task record", "task", h.ID, "err", derr)
	}
}

// Lookup returns the outstanding task for kind and refID, or nil.
func (r *Registry) Lookup(ctx context.Context, kind model.TaskKind, refID *int64) (*model.TaskRecord, error) {
	rec, err := r.store.FindTaskRecord(ctx, kind, refID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Terminate cancels the task and, when erase is set, deletes its ledger
// row. Terminating an already finished task is a no-op.
func (r *Registry) Terminate(ctx context.Context, h Handle, erase bool) error {
	if h.ID == "" {
		return nil
	}
	r.runner.Cancel(h.ID)
	if !erase {
		return nil
	}
	if err := r.store.DeleteTaskRecord(ctx, h.ID); err != nil {
		return fmt.Errorf("failed to erase task %s: %w", h.ID, err)
	}
	return nil
}

// TerminateKind terminates the outstanding task of kind and refID, if any.
func (r *Registry) TerminateKind(ctx context.Context, kind model.TaskKind, refID *int64) error {
	rec, err := r.Lookup(ctx, kind, refID)
	if err != nil || rec == nil {
		return err
	}
	return r.Terminate(ctx, Handle{ID: rec.ID, Kind: rec.Kind, RefID: rec.RefID}, true)
}

// Purge drops every ledger row. Called at startup, before work is resumed,
// since nothing from a previous process is still running.
func (r *Registry) Purge(ctx context.Context) error {
	n, err := r.store.PurgeTaskRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge task ledger: %w", err)
	}
	if n > 0 {
		r.log.Infow("purged stale task records", "count", n)
	}
	return nil
}
