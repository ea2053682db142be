package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"laundry-share-backend/internal/model"
)

// CreateReservation inserts r after checking, in the same transaction, that
// no other reservation intersects [StartTime, EndTime).
func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkOverlap(tx, r.StartTime, r.EndTime, 0); err != nil {
			return err
		}
		return tx.Omit("User").Create(r).Error
	})
	return overlapErr(err)
}

// UpdateReservation moves r to its new period, excluding itself from the check.
func (s *gormStore) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkOverlap(tx, r.StartTime, r.EndTime, r.ID); err != nil {
			return err
		}
		res := tx.Model(&model.Reservation{}).
			Where("id = ?", r.ID).
			Updates(map[string]any{
				"start_time":       r.StartTime,
				"end_time":         r.EndTime,
				"reminder_task_id": r.ReminderTaskID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return overlapErr(err)
}

func checkOverlap(tx *gorm.DB, start, end time.Time, excludeID int64) error {
	if err := lockMachine(tx); err != nil {
		return err
	}
	q := tx.Model(&model.Reservation{}).Where("start_time < ? AND end_time > ?", end, start)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrOverlap
	}
	return nil
}

func overlapErr(err error) error {
	if err != nil && !errors.Is(err, ErrOverlap) && isExclusionViolation(err) {
		return ErrOverlap
	}
	return err
}

func (s *gormStore) DeleteReservation(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Reservation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.db.WithContext(ctx).Preload("User").First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ListReservations returns reservations that end after endingAfter, by start time.
func (s *gormStore) ListReservations(ctx context.Context, endingAfter time.Time) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("end_time > ?", endingAfter).
		Order("start_time").
		Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// CountReservationRequests counts the reservations userID requested since
// the given instant, including ones deleted afterwards.
func (s *gormStore) CountReservationRequests(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Unscoped().Model(&model.Reservation{}).
		Where("user_id = ? AND requested_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// ReservationCovering returns the reservation of userID that contains at.
func (s *gormStore) ReservationCovering(ctx context.Context, userID int64, at time.Time) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time <= ? AND end_time > ?", userID, at, at).
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *gormStore) SetReservationTask(ctx context.Context, id int64, taskID *string) error {
	return s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ?", id).
		Update("reminder_task_id", taskID).Error
}
