package model

import "time"

// MachineID is the primary key of the single shared-resource row.
const MachineID int64 = 1

// MachineState is the normalised vendor state of the appliance.
type MachineState string

const (
	StateUnknown      MachineState = "UNKNOWN"
	StateIdle         MachineState = "IDLE"
	StateRunning      MachineState = "RUNNING"
	StatePaused       MachineState = "PAUSED"
	StateDelayedStart MachineState = "DELAYED_START"
	StateError        MachineState = "ERROR"
	StateFinished     MachineState = "FINISHED"
)

// ApplianceSnapshot is the last-known vendor state. It is advisory only and
// is always re-derived from the device gateway.
type ApplianceSnapshot struct {
	MachineState     MachineState `gorm:"size:32" json:"machineState"`
	ProgramState     string       `gorm:"size:64" json:"programState"`
	Program          int          `json:"program"`
	RemainingMinutes int          `json:"remainingMinutes"`
	Temperature      int          `json:"temperature"`
	SpinSpeed        int          `json:"spinSpeed"`
	PowerW           float64      `gorm:"column:power_w" json:"powerW"`
	WiFiSignal       int          `gorm:"column:wifi_signal" json:"wifiSignal"`
	RemoteControl    bool         `json:"remoteControl"`
	FetchedAt        time.Time    `json:"fetchedAt"`
}

// Stale reports whether the snapshot is older than ttl at now.
func (s ApplianceSnapshot) Stale(now time.Time, ttl time.Duration) bool {
	return s.FetchedAt.IsZero() || now.Sub(s.FetchedAt) > ttl
}

// Machine is the shared washing machine: billing settings plus cached telemetry.
type Machine struct {
	ID               int64   `gorm:"primaryKey"`
	DisplayName      string  `gorm:"size:256;not null"`
	CostPerKWh       float64 `gorm:"column:cost_per_kwh;not null"`
	CurrentKWh       float64 `gorm:"column:current_kwh"`
	EnergyObservedAt *time.Time

	Appliance ApplianceSnapshot `gorm:"embedded;embeddedPrefix:appliance_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
