package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"donatenow/authz"
	"donatenow/config"
	"donatenow/identity"
	"donatenow/ledger"
	"donatenow/logging"
	"donatenow/media"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func init() {
	// money goes over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if cfg.UsesDevSecret() {
		logging.Warn().Msg("JWT_SECRET not set, using the development secret")
	}

	// `./donatenow migrate` runs AutoMigrate and seeding then exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.Database.AutoMigrate = true
		initDB(cfg)
		fmt.Println("migration and seeding completed")
		return
	}

	initDB(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := ledger.NewEventBus()
	defer bus.Close()
	if err := subscribeClosures(ctx, bus); err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe to ledger events")
	}

	idp = identity.NewProvider(cfg.Security.JWTSecret, cfg.Security.AccessTTL)
	ledgerDB = ledger.NewBreakerStore(ledger.NewGormStore(db), cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerTimeout)
	ledgerSvc = ledger.NewService(ledgerDB,
		ledger.WithRetry(cfg.Ledger.MaxRetries, cfg.Ledger.RetryInitial),
		ledger.WithTxTimeout(cfg.Ledger.TxTimeout),
		ledger.WithPublisher(bus),
	)
	if enforcer, err = authz.NewEnforcer(); err != nil {
		logging.Fatal().Err(err).Msg("failed to build authorization policy")
	}
	mediaStore = media.NewStore(cfg.Media.BaseDir, cfg.Media.MaxBytes)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), requestContext(), accessLog())
	r.MaxMultipartMemory = cfg.Media.MaxBytes
	setupRoutes(r)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// subscribeClosures logs every cause.closed event.
func subscribeClosures(ctx context.Context, sub message.Subscriber) error {
	msgs, err := sub.Subscribe(ctx, ledger.TopicCauseClosed)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			var ev ledger.CauseClosed
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("undecodable cause.closed event")
				msg.Ack()
				continue
			}
			logging.Info().
				Uint("cause_id", ev.CauseID).
				Str("title", ev.Title).
				Str("goal", ev.Goal.String()).
				Str("raised", ev.Raised.String()).
				Uint("story_id", ev.StoryID).
				Str("request_id", msg.Metadata.Get("request_id")).
				Msg("cause closed")
			msg.Ack()
		}
	}()
	return nil
}
