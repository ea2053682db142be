package parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"laundry-share-backend/internal/model"
)

// StatusParameters is the raw key/value block reported by the appliance
// vendor. Every value is transmitted as a string.
type StatusParameters map[string]string

var machineStates = map[int]model.MachineState{
	-1: model.StateUnknown,
	1:  model.StateIdle,
	2:  model.StateRunning,
	3:  model.StatePaused,
	4:  model.StateDelayedStart, // delayed start selection
	5:  model.StateDelayedStart, // delayed start programmed
	6:  model.StateError,
	7:  model.StateFinished,
	8:  model.StateFinished,
}

var programPhases = map[int]string{
	0:  "Stopped",
	1:  "Pre-wash",
	2:  "Wash",
	3:  "Rinse",
	4:  "Last rinse",
	5:  "End",
	6:  "Drying",
	7:  "Error",
	8:  "Steam",
	9:  "Spin - Good Night",
	10: "Spin",
}

// MachineState maps a vendor machine-mode code. Unrecognised codes are UNKNOWN.
func MachineState(code int) model.MachineState {
	if s, ok := machineStates[code]; ok {
		return s
	}
	return model.StateUnknown
}

// ProgramPhase maps a vendor program-phase code to its label.
func ProgramPhase(code int) string {
	if p, ok := programPhases[code]; ok {
		return p
	}
	return "Unknown"
}

// ParseStatus converts the vendor parameters into a snapshot fetched at now.
// Only the machine mode is mandatory; other fields default to zero values.
func ParseStatus(params StatusParameters, now time.Time) (model.ApplianceSnapshot, error) {
	mode, err := intField(params, "MachMd")
	if err != nil {
		return model.ApplianceSnapshot{}, err
	}

	snap := model.ApplianceSnapshot{
		MachineState: MachineState(mode),
		ProgramState: "Unknown",
		FetchedAt:    now,
	}

	if phase, err := intField(params, "PrPh"); err == nil {
		snap.ProgramState = ProgramPhase(phase)
	}
	if pr, err := intField(params, "Pr"); err == nil {
		snap.Program = pr
	} else if pr, err := intField(params, "PrNm"); err == nil {
		snap.Program = pr
	}
	if temp, err := intField(params, "Temp"); err == nil {
		snap.Temperature = temp
	}
	if spin, err := intField(params, "SpinSp"); err == nil {
		snap.SpinSpeed = spin * 100
	}
	if rem, err := intField(params, "RemTime"); err == nil {
		snap.RemainingMinutes = int(math.Round(float64(rem) / 60))
	}
	if sig, err := intField(params, "WiFiSignal"); err == nil {
		snap.WiFiSignal = sig
	}
	if p, ok := params["Power"]; ok {
		if w, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			snap.PowerW = w
		}
	}
	snap.RemoteControl = strings.TrimSpace(params["WiFiStatus"]) == "1"

	return snap, nil
}

func intField(params StatusParameters, key string) (int, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing status parameter %q", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid status parameter %q=%q: %w", key, raw, err)
	}
	return n, nil
}
