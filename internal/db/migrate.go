package db

import (
	"errors"
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model owned by motorpool.
func AllModels() []interface{} {
	return []interface{}{
		&models.Vehicle{},
		&models.Request{},
		&models.User{},
		&models.SessionRecord{},
	}
}

// Migrations returns the ordered schema migrations.
func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "20260301_create_vehicles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Vehicle{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("vehicles")
			},
		},
		{
			ID: "20260301_create_requests",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Request{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("requests")
			},
		},
		{
			ID: "20260301_create_users",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.User{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users")
			},
		},
		{
			ID: "20260301_create_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.SessionRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions")
			},
		},
		{
			// Covers the status queries used by startup recovery and the
			// per-requester history listing.
			ID: "20260412_request_status_created_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE INDEX idx_requests_status_created ON requests (status, created_at)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropIndex(&models.Request{}, "idx_requests_status_created")
			},
		},
	}
}

// Migrate applies all pending migrations.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, Migrations())
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

// AutoMigrate creates or updates all tables without migration bookkeeping.
// Tests use it against throwaway databases.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedBootstrapUser upserts the bootstrap account from configuration. It is a
// no-op when no bootstrap CPF is configured.
func SeedBootstrapUser(db *gorm.DB, b config.BootstrapConfig) (bool, error) {
	if b.CPF == "" {
		return false, nil
	}
	if b.Registration == "" {
		return false, errors.New("db: bootstrap registration is required when cpf is set")
	}
	user := models.User{
		CPF:          b.CPF,
		Registration: b.Registration,
		Name:         b.Name,
		Role:         b.Role,
		Active:       true,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cpf"}},
		DoUpdates: clause.AssignmentColumns([]string{"registration", "name", "role", "active"}),
	}).Create(&user)
	if result.Error != nil {
		return false, fmt.Errorf("db: seed bootstrap user %s: %w", b.Registration, result.Error)
	}
	return true, nil
}
