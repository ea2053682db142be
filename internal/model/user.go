package model

import "time"

// Role grants privileges beyond those of a regular household member.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleUnlimited Role = "unlimited" // exempt from reservation-gated starts
)

// User is a household member sharing the machine.
type User struct {
	ID            int64  `gorm:"primaryKey"`
	Username      string `gorm:"uniqueIndex;size:128;not null"`
	FirstName     string `gorm:"size:150"`
	Role          Role   `gorm:"size:32;not null;default:user"`
	AutoStopCycle bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin reports whether the user holds the elevated role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// SchedulingExempt reports whether the user may start without a reservation.
func (u User) SchedulingExempt() bool {
	return u.Role == RoleAdmin || u.Role == RoleUnlimited
}

// DisplayName prefers the first name over the username.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}
