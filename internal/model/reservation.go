package model

import (
	"time"

	"gorm.io/gorm"
)

// Reservation is a future timeslot booking over [StartTime, EndTime).
// Deletion is soft.
type Reservation struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	UserID         *int64    `gorm:"index" json:"userId"`
	User           *User     `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	RequestedAt    time.Time `gorm:"not null;index" json:"requestedAt"`
	StartTime      time.Time `gorm:"not null;index" json:"startTime"`
	EndTime        time.Time `gorm:"not null;index" json:"endTime"`
	ReminderTaskID *string   `gorm:"size:64" json:"reminderTaskId"`

	// Deleted rows are kept so they still count against the request limit.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// OwnedBy reports whether userID made the reservation.
func (r Reservation) OwnedBy(userID int64) bool {
	return r.UserID != nil && *r.UserID == userID
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
