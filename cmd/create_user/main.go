package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"donatenow/config"
	"donatenow/database"
	"donatenow/logging"
	"donatenow/models"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "password (min 6 characters)")
	role := flag.String("role", models.RoleDonor, "role: donor or admin")
	flag.Parse()

	if strings.TrimSpace(*email) == "" || *password == "" {
		fmt.Println("usage: go run ./cmd/create_user --email <email> --password <password> [--name <name>] [--role donor|admin]")
		os.Exit(2)
	}
	if len(*password) < 6 {
		fmt.Fprintln(os.Stderr, "password must be at least 6 characters")
		os.Exit(2)
	}
	if *role != models.RoleDonor && *role != models.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	if strings.TrimSpace(*name) == "" {
		*name = strings.SplitN(*email, "@", 2)[0]
	}

	cfg, err := config.LoadUnvalidated()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	db, err := database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open db")
	}

	// ensure roles exist
	if err := database.Seed(db); err != nil {
		logging.Fatal().Err(err).Msg("failed to seed roles")
	}
	roleID, err := database.RoleID(db, *role)
	if err != nil {
		logging.Fatal().Err(err).Msg("role lookup failed")
	}

	// check existing
	var existing models.User
	if err := db.Where("email = ?", *email).First(&existing).Error; err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", *email, existing.ID)
		os.Exit(0)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		logging.Fatal().Err(err).Msg("bcrypt failed")
	}
	user := models.User{Name: *name, Email: *email, HashedPassword: hpw, RoleID: &roleID}
	if err := db.Create(&user).Error; err != nil {
		logging.Fatal().Err(err).Msg("failed to create user")
	}
	fmt.Printf("created %s user %s id=%d\n", *role, *email, user.ID)
}
