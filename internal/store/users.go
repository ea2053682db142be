package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"laundry-share-backend/internal/model"
)

func (s *gormStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *gormStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *gormStore) UpdateUserPreferences(ctx context.Context, id int64, autoStop bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("auto_stop_cycle", autoStop)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes an account. Cycle and reservation history is detached
// from the user instead of being deleted.
func (s *gormStore) DeleteUser(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Cycle{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return fmt.Errorf("failed to detach cycles of user %d: %w", id, err)
		}
		if err := tx.Unscoped().Model(&model.Reservation{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return fmt.Errorf("failed to detach reservations of user %d: %w", id, err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.CycleSplit{}).Error; err != nil {
			return fmt.Errorf("failed to delete splits of user %d: %w", id, err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.PushSubscription{}).Error; err != nil {
			return fmt.Errorf("failed to delete subscriptions of user %d: %w", id, err)
		}
		res := tx.Delete(&model.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *gormStore) GetMachine(ctx context.Context) (*model.Machine, error) {
	var m model.Machine
	if err := s.db.WithContext(ctx).First(&m, model.MachineID).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *gormStore) UpdateRate(ctx context.Context, costPerKWh float64) error {
	return s.db.WithContext(ctx).Model(&model.Machine{ID: model.MachineID}).
		Update("cost_per_kwh", costPerKWh).Error
}

// SaveSnapshot writes the embedded appliance columns only; billing fields
// are never touched by the poller.
func (s *gormStore) SaveSnapshot(ctx context.Context, snap model.ApplianceSnapshot) error {
	return s.db.WithContext(ctx).Model(&model.Machine{ID: model.MachineID}).
		Updates(map[string]any{
			"appliance_machine_state":     snap.MachineState,
			"appliance_program_state":     snap.ProgramState,
			"appliance_program":           snap.Program,
			"appliance_remaining_minutes": snap.RemainingMinutes,
			"appliance_temperature":       snap.Temperature,
			"appliance_spin_speed":        snap.SpinSpeed,
			"appliance_power_w":           snap.PowerW,
			"appliance_wifi_signal":       snap.WiFiSignal,
			"appliance_remote_control":    snap.RemoteControl,
			"appliance_fetched_at":        snap.FetchedAt,
		}).Error
}

func (s *gormStore) SaveEnergyReading(ctx context.Context, kwh float64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Machine{ID: model.MachineID}).
		Updates(map[string]any{"current_kwh": kwh, "energy_observed_at": at}).Error
}
