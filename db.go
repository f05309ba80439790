package main

import (
	"os"

	"donatenow/config"
	"donatenow/database"
	"donatenow/logging"

	"gorm.io/gorm"
)

var db *gorm.DB

// initDB connects, migrates when enabled and seeds master data. It exits the
// process when the database is unreachable.
func initDB(cfg *config.Config) {
	var err error
	db, err = database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect postgres database")
	}
	if cfg.Database.AutoMigrate {
		database.Migrate(db)
	}
	if err := database.Seed(db); err != nil {
		logging.Error().Err(err).Msg("seeding failed")
	}
	ensureUploadBase(cfg.Media.BaseDir)
}

// ensureUploadBase creates the base uploads directory.
func ensureUploadBase(base string) {
	if err := os.MkdirAll(base, 0755); err != nil {
		logging.Error().Err(err).Str("dir", base).Msg("failed to create upload base dir")
	}
}
