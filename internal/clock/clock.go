// Package clock abstracts wall time and cancellable sleeps so that the
// long-running monitoring loops can be driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper pauses the caller. Sleep returns ctx.Err() when the context is
// cancelled before d has elapsed.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the production Clock and Sleeper.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
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

// Fake is a manually advanced clock whose sleeps return immediately and
// move time forward by the slept duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, when set, runs after each recorded sleep.
	OnSleep func(n int, d time.Duration)
}

// NewFake returns a Fake starting at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	n := len(f.sleeps)
	hook := f.OnSleep
	f.mu.Unlock()
	if hook != nil {
		hook(n, d)
	}
	return ctx.Err()
}

// Sleeps returns the durations slept so far.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
