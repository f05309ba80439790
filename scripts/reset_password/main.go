package main

import (
	"flag"
	"fmt"
	"os"

	"donatenow/config"
	"donatenow/database"
	"donatenow/logging"
	"donatenow/models"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	email := flag.String("email", "", "email of the account to reset")
	password := flag.String("password", "", "new plaintext password (min 6 chars)")
	flag.Parse()
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "--email and --password are required")
		os.Exit(2)
	}
	if len(*password) < 6 {
		fmt.Fprintln(os.Stderr, "password too short (min 6)")
		os.Exit(2)
	}

	// config reads .env and DB_DSN the same way the server does
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	db, err := database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("open db")
	}

	var user models.User
	if err := db.Where("email = ?", *email).First(&user).Error; err != nil {
		logging.Fatal().Err(err).Str("email", *email).Msg("user not found")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		logging.Fatal().Err(err).Msg("bcrypt")
	}
	if err := db.Model(&user).Update("hashed_password", hash).Error; err != nil {
		logging.Fatal().Err(err).Msg("update failed")
	}
	// outstanding sessions die with the old password
	if err := db.Model(&models.RefreshToken{}).Where("user_id = ?", user.ID).Update("revoked", true).Error; err != nil {
		logging.Warn().Err(err).Msg("failed to revoke refresh tokens")
	}
	fmt.Printf("Password reset for %s\n", user.Email)
}
