// Package database opens the Postgres connection and owns schema migration
// and seeding, shared by the server and the maintenance CLIs.
package database

import (
	"errors"
	"fmt"
	"time"

	"donatenow/config"
	"donatenow/logging"
	"donatenow/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Seeded administrator credentials.
const (
	AdminEmail    = "admin@donatenow.local"
	AdminPassword = "123"
	AdminName     = "Administrator"
)

// Open connects to Postgres and applies the pool settings.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

// Migrate creates or updates the schema. Each model migrates on its own so a
// permission problem on one table does not block the rest; failures are
// logged as warnings.
func Migrate(gdb *gorm.DB) {
	// roles first so users can reference them
	steps := []struct {
		table string
		model any
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"refresh_tokens", &models.RefreshToken{}},
		{"causes", &models.Cause{}},
		{"donations", &models.Donation{}},
		{"stories", &models.Story{}},
		{"likes", &models.Like{}},
	}
	for _, s := range steps {
		if err := gdb.AutoMigrate(s.model); err != nil {
			logging.Warn().Err(err).Str("table", s.table).Msg("migration warning")
		}
	}
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_donations_cause_created ON donations (cause_id, created_at DESC)`).Error; err != nil {
		logging.Warn().Err(err).Msg("migration warning (donations index)")
	}
}

// Seed ensures the master roles and the administrator account exist.
func Seed(gdb *gorm.DB) error {
	roles := []models.Role{
		{Name: models.RoleAdmin, Description: "full access"},
		{Name: models.RoleDonor, Description: "regular user"},
	}
	for _, r := range roles {
		if err := gdb.Where("name = ?", r.Name).FirstOrCreate(&r).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}

	var count int64
	if err := gdb.Model(&models.User{}).Where("email = ?", AdminEmail).Count(&count).Error; err != nil {
		return fmt.Errorf("count admin: %w", err)
	}
	if count > 0 {
		return nil
	}
	roleID, err := RoleID(gdb, models.RoleAdmin)
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := models.User{Name: AdminName, Email: AdminEmail, HashedPassword: hashed, RoleID: &roleID}
	if err := gdb.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logging.Info().Str("email", AdminEmail).Msg("seeded admin user")
	return nil
}

// RoleID looks up a role by name.
func RoleID(gdb *gorm.DB, name string) (uint, error) {
	var role models.Role
	if err := gdb.Where("name = ?", name).First(&role).Error; err != nil {
		return 0, fmt.Errorf("role %s: %w", name, err)
	}
	return role.ID, nil
}

// RoleName resolves a role id to its name, "" when unset or unknown.
func RoleName(gdb *gorm.DB, roleID *uint) string {
	if roleID == nil {
		return ""
	}
	var role models.Role
	if err := gdb.Select("name").First(&role, *roleID).Error; err != nil {
		return ""
	}
	return role.Name
}
