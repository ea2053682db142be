package db

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/model"
)

// Models lists every table managed by AutoMigrate, in dependency order.
var Models = []any{
	&model.User{},
	&model.Machine{},
	&model.Cycle{},
	&model.CycleSplit{},
	&model.TaskRecord{},
	&model.Reservation{},
	&model.PushSubscription{},
}

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.SugaredLogger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Info("running database migrations")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.Driver == "postgres" && cfg.EnableExclusionConstraints {
		log.Info("applying postgres exclusion constraints")
		if err := applyExclusionDDL(db); err != nil {
			log.Warnw("failed to apply exclusion constraints, relying on application checks", "err", err)
		}
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates the schema and the shared machine row.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return EnsureMachine(db)
}

// EnsureMachine inserts the shared-resource row when it does not exist yet.
func EnsureMachine(db *gorm.DB) error {
	var machine model.Machine
	err := db.First(&machine, model.MachineID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load machine row: %w", err)
	}
	machine = model.Machine{
		ID:          model.MachineID,
		DisplayName: "Washing machine",
		CostPerKWh:  0,
		Appliance:   model.ApplianceSnapshot{MachineState: model.StateUnknown},
	}
	if err := db.Create(&machine).Error; err != nil {
		return fmt.Errorf("failed to create machine row: %w", err)
	}
	return nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func applyExclusionDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",

		// Reservations must not overlap; '[)' keeps back-to-back slots legal.
		"ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_no_overlap;",
		"ALTER TABLE reservations ADD CONSTRAINT reservations_no_overlap " +
			"EXCLUDE USING GIST (tstzrange(start_time, end_time, '[)') WITH &&) WHERE (deleted_at IS NULL);",

		"ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_period_valid;",
		"ALTER TABLE reservations ADD CONSTRAINT reservations_period_valid CHECK (start_time < end_time);",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
