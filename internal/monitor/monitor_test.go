package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/device/devicetest"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/notification/notificationtest"
	"laundry-share-backend/internal/store"
)

const (
	cycleID = int64(42)
	ownerID = int64(7)
)

var testCfg = config.CycleConfig{
	InitialGrace:     10 * time.Minute,
	LongPoll:         5 * time.Minute,
	ShortPoll:        time.Minute,
	EscalationGrace:  11 * time.Minute,
	ReminderInterval: 4 * time.Minute,
	MaxReminders:     10,
}

type fakeUsers struct {
	autoStop bool
	err      error
}

func (u fakeUsers) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	return &model.User{ID: id, Username: "alice", AutoStopCycle: u.autoStop}, nil
}

type fakeStopper struct {
	mu    sync.Mutex
	calls [][2]int64
	err   error
}

func (s *fakeStopper) AutoStop(ctx context.Context, cycleID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, [2]int64{cycleID, userID})
	return s.err
}

type fixture struct {
	orch     *Orchestrator
	gateway  *devicetest.Fake
	sleeper  *clock.Fake
	notifier *notificationtest.Recorder
	stopper  *fakeStopper
}

func newFixture(cfg config.CycleConfig, users UserLookup, states ...model.MachineState) *fixture {
	f := &fixture{
		gateway:  devicetest.NewFake(0),
		sleeper:  clock.NewFake(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)),
		notifier: &notificationtest.Recorder{},
		stopper:  &fakeStopper{},
	}
	f.gateway.States = states
	f.orch = New(cfg, f.gateway, users, f.notifier, f.sleeper, zap.NewNop().Sugar())
	return f
}

func (f *fixture) run(t *testing.T) error {
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(context.Background(), cycleID, ownerID, f.stopper) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
		return nil
	}
}

func TestRun_EscalationResetsWhenMachineRestarts(t *testing.T) {
	f := newFixture(testCfg, fakeUsers{autoStop: false},
		model.StateFinished, model.StateRunning, model.StateFinished)

	require.NoError(t, f.run(t))

	assert.Len(t, f.notifier.Titled(TitleEnded), 2)
	assert.Len(t, f.notifier.Titled(TitleReminder), 10)
	assert.Empty(t, f.stopper.calls)

	expected := []time.Duration{
		10 * time.Minute, // initial grace
		11 * time.Minute, // escalation grace
		5 * time.Minute,  // machine running again
		11 * time.Minute, // second escalation grace
	}
	for i := 0; i < 10; i++ {
		expected = append(expected, 4*time.Minute)
	}
	assert.Equal(t, expected, f.sleeper.Sleeps())
	assert.Equal(t, 13, f.gateway.StatusPolls)

	for _, n := range f.notifier.All() {
		require.NotNil(t, n.To.UserID)
		assert.Equal(t, ownerID, *n.To.UserID)
	}
}

func TestRun_AutoStop(t *testing.T) {
	f := newFixture(testCfg, fakeUsers{autoStop: true}, model.StateRunning, model.StateFinished)

	require.NoError(t, f.run(t))

	assert.Equal(t, [][2]int64{{cycleID, ownerID}}, f.stopper.calls)
	assert.Len(t, f.notifier.Titled(TitleEnded), 1)
	assert.Len(t, f.notifier.Titled(TitleAutoStopped), 1)
	assert.Empty(t, f.notifier.Titled(TitleReminder))
	assert.Equal(t, []time.Duration{10 * time.Minute, 5 * time.Minute}, f.sleeper.Sleeps())
}

func TestRun_AutoStopFailureFallsBackToReminders(t *testing.T) {
	cfg := testCfg
	cfg.MaxReminders = 2
	f := newFixture(cfg, fakeUsers{autoStop: true}, model.StateFinished)
	f.stopper.err = errors.New("relay unreachable")

	require.NoError(t, f.run(t))

	assert.Len(t, f.stopper.calls, 1)
	assert.Empty(t, f.notifier.Titled(TitleAutoStopped))
	assert.Len(t, f.notifier.Titled(TitleReminder), 2)
}

func TestRun_OwnerLookupFailureDoesNotAutoStop(t *testing.T) {
	cfg := testCfg
	cfg.MaxReminders = 1
	f := newFixture(cfg, fakeUsers{err: store.ErrNotFound}, model.StateFinished)

	require.NoError(t, f.run(t))

	assert.Empty(t, f.stopper.calls)
	assert.Len(t, f.notifier.Titled(TitleReminder), 1)
}

func TestRun_TransientStatesKeepPolling(t *testing.T) {
	cfg := testCfg
	cfg.MaxReminders = 2
	f := newFixture(cfg, fakeUsers{},
		model.StatePaused,
		model.StateUnknown, // replaced by a poll error below
		model.StateError,
		model.StateUnknown,
		model.StateIdle,
		model.StateDelayedStart,
		model.StateFinished,
	)
	f.gateway.StatusErrs = map[int]error{1: devicetest.ErrOffline}

	require.NoError(t, f.run(t))

	assert.Len(t, f.notifier.Titled(TitlePaused), 1)
	assert.Len(t, f.notifier.Titled(TitleEnded), 1)

	sleeps := f.sleeper.Sleeps()
	require.GreaterOrEqual(t, len(sleeps), 7)
	assert.Equal(t, []time.Duration{
		10 * time.Minute, time.Minute, time.Minute, time.Minute, time.Minute, time.Minute, time.Minute,
		11 * time.Minute,
	}, sleeps[:8])
}

func TestRun_EscalationPollErrorStillReminds(t *testing.T) {
	cfg := testCfg
	cfg.MaxReminders = 3
	f := newFixture(cfg, fakeUsers{}, model.StateFinished)
	f.gateway.StatusErrs = map[int]error{2: devicetest.ErrOffline}

	require.NoError(t, f.run(t))

	assert.Len(t, f.notifier.Titled(TitleReminder), 3)
	assert.Equal(t, 4, f.gateway.StatusPolls)
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	f := newFixture(testCfg, fakeUsers{}, model.StateRunning)

	ctx, cancel := context.WithCancel(context.Background())
	f.sleeper.OnSleep = func(n int, _ time.Duration) {
		if n == 3 {
			cancel()
		}
	}

	err := f.orch.Job(cycleID, ownerID, f.stopper)(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.sleeper.Sleeps(), 3)
	assert.Empty(t, f.notifier.All())
}
