package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/arbiter"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/fanout"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger("ride-dispatch", cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_requests.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Error("migration exec failed", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_requests.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Error("migration db open failed", "error", err)
		}
	}

	var requests store.RequestStore
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		requests = ps
	} else {
		requests = store.NewMemoryStore()
	}

	var dir directory.Directory
	if cfg.RedisAddr != "" {
		dir = directory.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.LivenessWindow)
	} else {
		dir = directory.NewIndex(cfg.LivenessWindow)
	}

	wsreg := fanout.NewWSRegistry()
	multi := fanout.NewMulti(logger)
	multi.Add("websocket", wsreg)
	if len(cfg.KafkaBrokers) > 0 {
		multi.Add("kafka", fanout.NewKafkaEvents(cfg.KafkaBrokers, cfg.EventsTopic))
	}
	if cfg.PushEndpoint != "" {
		multi.Add("push", fanout.NewPushGateway(cfg.PushEndpoint, cfg.PushKey))
	}

	var heartbeats *ingest.HeartbeatProducer
	if len(cfg.KafkaBrokers) > 0 {
		heartbeats = ingest.NewHeartbeatProducer(cfg.KafkaBrokers, cfg.HeartbeatTopic)
	}

	bc := broadcast.New(requests, dir, multi, logger, cfg.OfferWindow)
	arb := &arbiter.Service{Store: requests, Fanout: multi, Offers: bc, Log: logger}
	machine := &lifecycle.Machine{
		Store:    requests,
		Fanout:   multi,
		Offers:   bc,
		Payments: payments.NewStripeClient(cfg.StripeCurrency),
		Log:      logger,
	}
	sweeper := &lifecycle.Sweeper{
		Store:           requests,
		Broadcast:       bc,
		Fanout:          multi,
		Log:             logger,
		Interval:        cfg.SweepInterval,
		MaxRebroadcasts: cfg.MaxRebroadcasts,
	}

	api := httpapi.NewServer(httpapi.Deps{
		Store:       requests,
		Broadcast:   bc,
		Arbiter:     arb,
		Machine:     machine,
		Directory:   dir,
		Heartbeats:  heartbeats,
		WSReg:       wsreg,
		OfferWindow: cfg.OfferWindow,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if heartbeats != nil {
		_ = heartbeats.Close()
	}
}
