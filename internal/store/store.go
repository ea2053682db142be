package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-share-backend/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrOpenCycleExists is returned when a second open cycle would be created.
	ErrOpenCycleExists = errors.New("store: an open cycle already exists")
	// ErrSingletonExists is returned when a singleton task kind is already outstanding.
	ErrSingletonExists = errors.New("store: singleton task already outstanding")
	// ErrOverlap is returned when a reservation intersects another one.
	ErrOverlap = errors.New("store: reservation overlaps an existing one")
	// ErrSplitClosed is returned when splits are added to an open or paid cycle.
	ErrSplitClosed = errors.New("store: cycle can no longer be split")
	// ErrSplitsUnaccepted is returned when a payment needs every split accepted first.
	ErrSplitsUnaccepted = errors.New("store: cycle has unaccepted splits")
)

// Store defines the interface for all database operations.
type Store interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUserPreferences(ctx context.Context, id int64, autoStop bool) error
	DeleteUser(ctx context.Context, id int64) error

	GetMachine(ctx context.Context) (*model.Machine, error)
	UpdateRate(ctx context.Context, costPerKWh float64) error
	SaveSnapshot(ctx context.Context, snap model.ApplianceSnapshot) error
	SaveEnergyReading(ctx context.Context, kwh float64, at time.Time) error

	OpenCycle(ctx context.Context) (*model.Cycle, error)
	CreateCycle(ctx context.Context, c *model.Cycle) error
	CloseCycle(ctx context.Context, c *model.Cycle) error
	DeleteCycle(ctx context.Context, id int64) error
	GetCycle(ctx context.Context, id int64) (*model.Cycle, error)
	SetCycleMonitorTask(ctx context.Context, cycleID int64, taskID *string) error
	ListUserCycles(ctx context.Context, userID int64, since time.Time) ([]model.Cycle, error)
	ListClosedCycles(ctx context.Context, since time.Time) ([]model.Cycle, error)
	ListUnpaidClosedCycles(ctx context.Context) ([]model.Cycle, error)
	UpdateUnpaidCycleCosts(ctx context.Context, costs map[int64]float64) (int64, error)
	MarkCyclePaid(ctx context.Context, cycleID int64) error

	CreateSplits(ctx context.Context, cycleID int64, userIDs []int64) error
	AcceptSplit(ctx context.Context, cycleID, userID int64) error
	DeleteSplit(ctx context.Context, cycleID, userID int64) error
	MarkSplitPaid(ctx context.Context, cycleID, userID int64) error

	CreateTaskRecord(ctx context.Context, rec *model.TaskRecord) error
	FindTaskRecord(ctx context.Context, kind model.TaskKind, refID *int64) (*model.TaskRecord, error)
	GetTaskRecord(ctx context.Context, id string) (*model.TaskRecord, error)
	DeleteTaskRecord(ctx context.Context, id string) error
	PurgeTaskRecords(ctx context.Context) (int64, error)

	CreateReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	DeleteReservation(ctx context.Context, id int64) error
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	ListReservations(ctx context.Context, endingAfter time.Time) ([]model.Reservation, error)
	CountReservationRequests(ctx context.Context, userID int64, since time.Time) (int64, error)
	ReservationCovering(ctx context.Context, userID int64, at time.Time) (*model.Reservation, error)
	SetReservationTask(ctx context.Context, id int64, taskID *string) error

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsFor(ctx context.Context, userID *int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// lockMachine serialises writers that enforce cross-row invariants by taking
// a row lock on the shared machine row. sqlite already serialises writers.
func lockMachine(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	var m model.Machine
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&m, model.MachineID).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func isExclusionViolation(err error) bool {
	return strings.Contains(err.Error(), "reservations_no_overlap")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
