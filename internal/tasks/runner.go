// Package tasks runs background jobs and keeps a durable ledger of the ones
// that are outstanding.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errPanicked = errors.New("job panicked")

// Job is a unit of background work. It must return promptly once ctx is done.
type Job func(ctx context.Context) error

// Runner is the execution substrate for jobs.
type Runner interface {
	// Submit schedules job to run at eta (immediately when eta is zero or
	// past). onDone receives the job's result, or ctx.Err() if it was
	// cancelled before starting.
	Submit(id string, eta time.Time, job Job, onDone func(error))
	// Cancel requests cancellation. It does not wait for the job to stop.
	Cancel(id string) bool
}

// GoroutineRunner runs each job on its own goroutine.
type GoroutineRunner struct {
	parent context.Context
	log    *zap.SugaredLogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewGoroutineRunner creates a runner whose jobs are cancelled with parent.
func NewGoroutineRunner(parent context.Context, log *zap.SugaredLogger) *GoroutineRunner {
	return &GoroutineRunner{
		parent:  parent,
		log:     log,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (r *GoroutineRunner) Submit(id string, eta time.Time, job Job, onDone func(error)) {
	ctx, cancel := context.WithCancel(r.parent)

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
			cancel()
		}()

		err := waitUntil(ctx, eta)
		if err == nil {
			err = r.run(ctx, id, job)
		}
		if onDone != nil {
			onDone(err)
		}
	}()
}

func (r *GoroutineRunner) run(ctx context.Context, id string, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("background job panicked", "task", id, "panic", p)
			err = fmt.Errorf("%w: %v", errPanicked, p)
		}
	}()
	return job(ctx)
}

func (r *GoroutineRunner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every submitted job has returned.
func (r *GoroutineRunner) Wait() {
	r.wg.Wait()
}

func waitUntil(ctx context.Context, eta time.Time) error {
	if eta.IsZero() {
		return ctx.Err()
	}
	d := time.Until(eta)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
