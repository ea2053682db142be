package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"laundry-share-backend/internal/model"
)

// OpenCycle returns the single open cycle, or ErrNotFound.
func (s *gormStore) OpenCycle(ctx context.Context) (*model.Cycle, error) {
	var c model.Cycle
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("end_time IS NULL").
		Order("start_time DESC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateCycle inserts an open cycle. It returns ErrOpenCycleExists when
// another open cycle is already recorded.
func (s *gormStore) CreateCycle(ctx context.Context, c *model.Cycle) error {
	open := true
	c.OpenSlot = &open
	c.EndTime = nil

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&model.Cycle{}).Where("end_time IS NULL").Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrOpenCycleExists
		}
		return tx.Omit("Splits", "User").Create(c).Error
	})
	if err != nil && !errors.Is(err, ErrOpenCycleExists) && isUniqueViolation(err) {
		return ErrOpenCycleExists
	}
	return err
}

// CloseCycle freezes the end reading, end time and cost of an open cycle.
// It returns ErrNotFound when the cycle was already closed.
func (s *gormStore) CloseCycle(ctx context.Context, c *model.Cycle) error {
	c.OpenSlot = nil
	res := s.db.WithContext(ctx).Model(&model.Cycle{}).
		Where("id = ? AND end_time IS NULL", c.ID).
		Select("end_kwh", "end_time", "cost", "open_slot", "monitor_task_id").
		Updates(c)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) DeleteCycle(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cycle_id = ?", id).Delete(&model.CycleSplit{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Cycle{}, id).Error
	})
}

// GetCycle loads a cycle together with its splits.
func (s *gormStore) GetCycle(ctx context.Context, id int64) (*model.Cycle, error) {
	var c model.Cycle
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Splits", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Preload("Splits.User").
		First(&c, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *gormStore) SetCycleMonitorTask(ctx context.Context, cycleID int64, taskID *string) error {
	return s.db.WithContext(ctx).Model(&model.Cycle{}).
		Where("id = ?", cycleID).
		Update("monitor_task_id", taskID).Error
}

// ListUserCycles returns the closed cycles a user owns or takes part in,
// ordered by end time. A zero since returns the full history.
func (s *gormStore) ListUserCycles(ctx context.Context, userID int64, since time.Time) ([]model.Cycle, error) {
	q := s.closedCycles(ctx).
		Where("(user_id = ? OR id IN (?))", userID,
			s.db.Model(&model.CycleSplit{}).Select("cycle_id").Where("user_id = ?", userID))
	if !since.IsZero() {
		q = q.Where("end_time >= ?", since)
	}
	var cycles []model.Cycle
	if err := q.Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("failed to list cycles of user %d: %w", userID, err)
	}
	return cycles, nil
}

// ListClosedCycles returns every closed cycle that ended at or after since.
func (s *gormStore) ListClosedCycles(ctx context.Context, since time.Time) ([]model.Cycle, error) {
	q := s.closedCycles(ctx)
	if !since.IsZero() {
		q = q.Where("end_time >= ?", since)
	}
	var cycles []model.Cycle
	if err := q.Find(&cycles).Error; err != nil {
		return nil, err
	}
	return cycles, nil
}

func (s *gormStore) ListUnpaidClosedCycles(ctx context.Context) ([]model.Cycle, error) {
	var cycles []model.Cycle
	if err := s.closedCycles(ctx).Where("paid = ?", false).Find(&cycles).Error; err != nil {
		return nil, err
	}
	return cycles, nil
}

func (s *gormStore) closedCycles(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("User").
		Preload("Splits").
		Where("end_time IS NOT NULL").
		Order("end_time")
}

// UpdateUnpaidCycleCosts writes the given costs in one transaction. Cycles
// that were paid in the meantime are left alone.
func (s *gormStore) UpdateUnpaidCycleCosts(ctx context.Context, costs map[int64]float64) (int64, error) {
	var updated int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, cost := range costs {
			res := tx.Model(&model.Cycle{}).
				Where("id = ? AND paid = ? AND end_time IS NOT NULL", id, false).
				Update("cost", cost)
			if res.Error != nil {
				return fmt.Errorf("failed to update cost of cycle %d: %w", id, res.Error)
			}
			updated += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// MarkCyclePaid settles a closed cycle. It returns ErrSplitsUnaccepted when
// any split is still pending at the time of the update.
func (s *gormStore) MarkCyclePaid(ctx context.Context, cycleID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx); err != nil {
			return err
		}
		var pending int64
		if err := tx.Model(&model.CycleSplit{}).
			Where("cycle_id = ? AND accepted = ?", cycleID, false).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrSplitsUnaccepted
		}
		res := tx.Model(&model.Cycle{}).
			Where("id = ? AND end_time IS NOT NULL", cycleID).
			Update("paid", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateSplits adds pending participants to a closed, unpaid cycle, skipping
// existing ones. It returns ErrSplitClosed when the cycle is open, paid or
// already has a paid split.
func (s *gormStore) CreateSplits(ctx context.Context, cycleID int64, userIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx); err != nil {
			return err
		}
		var c model.Cycle
		if err := tx.Select("id", "end_time", "paid").First(&c, cycleID).Error; err != nil {
			return notFound(err)
		}
		if c.IsOpen() || c.Paid {
			return ErrSplitClosed
		}
		var paidSplits int64
		if err := tx.Model(&model.CycleSplit{}).
			Where("cycle_id = ? AND paid = ?", cycleID, true).
			Count(&paidSplits).Error; err != nil {
			return err
		}
		if paidSplits > 0 {
			return ErrSplitClosed
		}

		for _, uid := range userIDs {
			var existing int64
			if err := tx.Model(&model.CycleSplit{}).
				Where("cycle_id = ? AND user_id = ?", cycleID, uid).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				continue
			}
			split := model.CycleSplit{CycleID: cycleID, UserID: uid}
			if err := tx.Omit("User").Create(&split).Error; err != nil {
				return fmt.Errorf("failed to add user %d to cycle %d: %w", uid, cycleID, err)
			}
		}
		return nil
	})
}

func (s *gormStore) AcceptSplit(ctx context.Context, cycleID, userID int64) error {
	res := s.db.WithContext(ctx).Model(&model.CycleSplit{}).
		Where("cycle_id = ? AND user_id = ?", cycleID, userID).
		Update("accepted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSplitPaid settles one participant's share. It returns
// ErrSplitsUnaccepted when the split has not been accepted.
func (s *gormStore) MarkSplitPaid(ctx context.Context, cycleID, userID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMachine(tx); err != nil {
			return err
		}
		var split model.CycleSplit
		if err := tx.Where("cycle_id = ? AND user_id = ?", cycleID, userID).First(&split).Error; err != nil {
			return notFound(err)
		}
		if !split.Accepted {
			return ErrSplitsUnaccepted
		}
		return tx.Model(&model.CycleSplit{}).
			Where("cycle_id = ? AND user_id = ?", cycleID, userID).
			Update("paid", true).Error
	})
}

// DeleteSplit removes an unpaid split. A paid split is reported as ErrNotFound.
func (s *gormStore) DeleteSplit(ctx context.Context, cycleID, userID int64) error {
	res := s.db.WithContext(ctx).
		Where("cycle_id = ? AND user_id = ? AND paid = ?", cycleID, userID, false).
		Delete(&model.CycleSplit{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
