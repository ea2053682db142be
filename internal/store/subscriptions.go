package store

import (
	"context"

	"gorm.io/gorm/clause"

	"laundry-share-backend/internal/model"
)

// SaveSubscription creates or refreshes a browser push subscription.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Omit("User").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription. Missing endpoints are ignored.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error
}

// SubscriptionsFor returns the subscriptions of one user, or of everyone when userID is nil.
func (s *gormStore) SubscriptionsFor(ctx context.Context, userID *int64) ([]model.PushSubscription, error) {
	q := s.db.WithContext(ctx)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var subs []model.PushSubscription
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
