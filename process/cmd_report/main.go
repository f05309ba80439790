package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"donatenow/config"
	"donatenow/database"
	"donatenow/logging"
	"donatenow/process/report"
)

func main() {
	causeID := flag.Uint("cause", 0, "cause id to report for")
	month := flag.String("month", time.Now().UTC().Format("2006-01"), "month to report (YYYY-MM)")
	list := flag.Bool("list", false, "list matching donations")
	flag.Parse()

	if *causeID == 0 {
		fmt.Fprintln(os.Stderr, "usage: cmd_report --cause <id> [--month YYYY-MM] [--list]")
		os.Exit(2)
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := report.Build(ctx, gdb, uint(*causeID), *month, *list)
	if err != nil {
		logging.Fatal().Err(err).Msg("report failed")
	}
	report.Write(os.Stdout, s, *month)
}
