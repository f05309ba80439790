package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"donatenow/config"
	"donatenow/database"
	"donatenow/ledger"
	"donatenow/logging"
	"donatenow/process/importer"
)

// Imports offline pledges (cause_id,amount,name,message,place) from CSV files
// through the same ledger the API uses.
func main() {
	dir := flag.String("dir", "public/pledges", "directory to scan for pledge CSV files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	gdb, err := database.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("open database")
	}

	store := ledger.NewBreakerStore(ledger.NewGormStore(gdb), cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerTimeout)
	svc := ledger.NewService(store,
		ledger.WithRetry(cfg.Ledger.MaxRetries, cfg.Ledger.RetryInitial),
		ledger.WithTxTimeout(cfg.Ledger.TxTimeout),
	)
	im := importer.New(svc, *workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		if err := im.Watch(ctx, *dir); err != nil {
			logging.Fatal().Err(err).Msg("watch failed")
		}
		return
	}
	results, err := im.ScanDir(ctx, *dir)
	if err != nil {
		logging.Fatal().Err(err).Msg("import failed")
	}
	for _, r := range results {
		fmt.Printf("%s: imported=%d closed=%d rejected=%d\n", r.File, r.Imported, r.Closed, len(r.Errors))
	}
}
