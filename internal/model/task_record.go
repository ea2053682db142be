package model

import "time"

// TaskKind names the background operations tracked in the ledger.
type TaskKind string

const (
	TaskCycleMonitor        TaskKind = "CYCLE_MONITOR"
	TaskReservationReminder TaskKind = "RESERVATION_REMINDER"
	TaskDoorRelease         TaskKind = "DOOR_RELEASE"
	TaskCostRecalculation   TaskKind = "COST_RECALCULATION"
)

// Singleton reports whether at most one task of this kind may be outstanding.
func (k TaskKind) Singleton() bool {
	return k == TaskDoorRelease || k == TaskCostRecalculation
}

// TaskRecord is a ledger entry for one outstanding background operation.
type TaskRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Kind      TaskKind  `gorm:"size:32;not null;index:idx_task_kind_ref"`
	RefID     *int64    `gorm:"index:idx_task_kind_ref"`
	CreatedAt time.Time `gorm:"not null"`

	// SingletonKey carries the kind for singleton kinds and NULL otherwise,
	// so the unique index admits one outstanding singleton per kind.
	SingletonKey *string `gorm:"size:32;uniqueIndex"`
}
