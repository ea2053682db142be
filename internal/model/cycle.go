package model

import "time"

// Cycle is one usage session of the shared machine. A cycle with no EndTime
// is open; at most one open cycle exists system-wide.
type Cycle struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	UserID    *int64     `gorm:"index" json:"userId"` // nil once the owner's account is deleted
	User      *User      `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	StartKWh  float64    `gorm:"column:start_kwh;not null" json:"startKWh"`
	EndKWh    *float64   `gorm:"column:end_kwh" json:"endKWh"`
	StartTime time.Time  `gorm:"not null;index" json:"startTime"`
	EndTime   *time.Time `gorm:"index" json:"endTime"`
	Cost      *float64   `json:"cost"`
	Paid      bool       `gorm:"not null;default:false" json:"paid"`

	// OpenSlot is true while the cycle is open and NULL afterwards. Its unique
	// index lets the database reject a second open cycle.
	OpenSlot *bool `gorm:"uniqueIndex" json:"-"`

	MonitorTaskID *string `gorm:"size:64" json:"monitorTaskId"`

	Splits []CycleSplit `gorm:"foreignKey:CycleID;constraint:OnDelete:CASCADE" json:"splits"`
}

// IsOpen reports whether the cycle is still running.
func (c Cycle) IsOpen() bool { return c.EndTime == nil }

// OwnedBy reports whether userID owns the cycle.
func (c Cycle) OwnedBy(userID int64) bool {
	return c.UserID != nil && *c.UserID == userID
}

// CostValue returns the frozen cost, or 0 while the cycle is open.
func (c Cycle) CostValue() float64 {
	if c.Cost == nil {
		return 0
	}
	return *c.Cost
}

// UsageKWh returns the metered energy, or 0 while the cycle is open.
func (c Cycle) UsageKWh() float64 {
	if c.EndKWh == nil {
		return 0
	}
	return *c.EndKWh - c.StartKWh
}

// SplitFor returns the split held by userID, if any.
func (c Cycle) SplitFor(userID int64) (CycleSplit, bool) {
	for _, s := range c.Splits {
		if s.UserID == userID {
			return s, true
		}
	}
	return CycleSplit{}, false
}

// CycleSplit is a proportional-share participant of a cycle.
type CycleSplit struct {
	CycleID  int64 `gorm:"primaryKey;autoIncrement:false" json:"cycleId"`
	UserID   int64 `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	User     *User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Accepted bool  `gorm:"not null;default:false" json:"accepted"`
	Paid     bool  `gorm:"not null;default:false" json:"paid"`
}
