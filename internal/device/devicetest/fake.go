// Package devicetest provides a scriptable in-memory device gateway.
package devicetest

import (
	"context"
	"errors"
	"sync"

	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
)

// ErrOffline is returned by a Fake whose device has been marked offline.
var ErrOffline = errs.Wrap(errs.KindDeviceUnavailable, "device offline", errors.New("fake device offline"))

// Fake implements device.Gateway. Relay calls are recorded; appliance states
// are served from a script, repeating the last entry once exhausted.
type Fake struct {
	mu sync.Mutex

	RelayCalls  []device.Mode
	RelayOn     bool
	RelayFails  int // number of upcoming SetRelay calls that fail
	RelayCode   int
	MeterKWh    float64
	MeterErr    error
	States      []model.MachineState
	StatusErrs  map[int]error // poll index -> error
	StatusPolls int
}

// NewFake returns an online fake with the meter at kwh.
func NewFake(kwh float64) *Fake {
	return &Fake{MeterKWh: kwh, RelayCode: 200}
}

func (f *Fake) SetRelay(ctx context.Context, mode device.Mode) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RelayCalls = append(f.RelayCalls, mode)
	if f.RelayFails > 0 {
		f.RelayFails--
		return 503, ErrOffline
	}
	f.RelayOn = mode == device.On
	return f.RelayCode, nil
}

func (f *Fake) EnergyKWh(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MeterKWh, f.MeterErr
}

func (f *Fake) ApplianceStatus(ctx context.Context) (model.ApplianceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.StatusPolls
	f.StatusPolls++
	if err, ok := f.StatusErrs[i]; ok {
		return model.ApplianceSnapshot{}, err
	}
	state := model.StateUnknown
	if len(f.States) > 0 {
		if i >= len(f.States) {
			i = len(f.States) - 1
		}
		state = f.States[i]
	}
	return model.ApplianceSnapshot{MachineState: state}, nil
}

// SetMeter moves the energy counter.
func (f *Fake) SetMeter(kwh float64) {
	f.mu.Lock()
	f.MeterKWh = kwh
	f.mu.Unlock()
}

// SetRelayFails makes the next n relay calls fail.
func (f *Fake) SetRelayFails(n int) {
	f.mu.Lock()
	f.RelayFails = n
	f.mu.Unlock()
}

// Calls returns a copy of the recorded relay commands.
func (f *Fake) Calls() []device.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Mode(nil), f.RelayCalls...)
}

// IsOn reports the last successfully commanded relay position.
func (f *Fake) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RelayOn
}
