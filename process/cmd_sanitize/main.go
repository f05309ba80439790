package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"donatenow/config"
	"donatenow/database"
	"donatenow/logging"
	"donatenow/process/sanitize"
)

func main() {
	var opts sanitize.Options
	flag.BoolVar(&opts.DryRun, "dry-run", true, "Don't perform destructive actions; show what would be done")
	flag.BoolVar(&opts.Yes, "yes", false, "Confirm destructive action (required to actually truncate)")
	flag.BoolVar(&opts.Reseed, "reseed", false, "After truncation, reseed master roles and admin user")
	flag.StringVar(&opts.Tables, "tables", sanitize.DefaultTables, "Comma-separated list of tables to truncate")
	flag.Parse()

	cfg, err := config.LoadUnvalidated()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	gdb, err := database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("open database")
	}
	if err := sanitize.Run(context.Background(), gdb, opts, os.Stdout); err != nil {
		logging.Fatal().Err(err).Msg("sanitize failed")
	}
}
