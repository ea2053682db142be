package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"laundry-share-backend/internal/model"
)

// CreateTaskRecord inserts a ledger entry. For singleton kinds it fails with
// ErrSingletonExists while another entry of the same kind is outstanding.
func (s *gormStore) CreateTaskRecord(ctx context.Context, rec *model.TaskRecord) error {
	if rec.Kind.Singleton() {
		key := string(rec.Kind)
		rec.SingletonKey = &key
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.Kind.Singleton() {
			var count int64
			if err := tx.Model(&model.TaskRecord{}).Where("kind = ?", rec.Kind).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrSingletonExists
			}
		}
		return tx.Create(rec).Error
	})
	if err != nil && rec.Kind.Singleton() && !errors.Is(err, ErrSingletonExists) && isUniqueViolation(err) {
		return ErrSingletonExists
	}
	return err
}

// FindTaskRecord returns the newest ledger entry for kind and refID.
func (s *gormStore) FindTaskRecord(ctx context.Context, kind model.TaskKind, refID *int64) (*model.TaskRecord, error) {
	q := s.db.WithContext(ctx).Where("kind = ?", kind)
	if refID == nil {
		q = q.Where("ref_id IS NULL")
	} else {
		q = q.Where("ref_id = ?", *refID)
	}
	var rec model.TaskRecord
	if err := q.Order("created_at DESC").First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *gormStore) GetTaskRecord(ctx context.Context, id string) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// DeleteTaskRecord removes a ledger entry. Deleting a missing entry is not an error.
func (s *gormStore) DeleteTaskRecord(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TaskRecord{}).Error
}

// PurgeTaskRecords empties the ledger; used at startup before work is resumed.
func (s *gormStore) PurgeTaskRecords(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.TaskRecord{})
	return res.RowsAffected, res.Error
}
