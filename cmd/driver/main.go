package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/driver-session/internal/auth"
	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/config"
	"github.com/example/driver-session/internal/eta"
	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/geo"
	httpapi "github.com/example/driver-session/internal/http"
	"github.com/example/driver-session/internal/ingest"
	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/presenter"
	"github.com/example/driver-session/internal/rideapi"
	"github.com/example/driver-session/internal/session"
	"github.com/example/driver-session/internal/storage"
)

func main() {
	cfg, err := config.LoadDriverConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	identity, err := resolveIdentity(cfg)
	if err != nil {
		logger.Error("cannot determine driver identity", "error", err)
		os.Exit(1)
	}
	logger = logger.With("driver_id", identity.DriverID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// optional migration: run migrations/001_create_ride_journal.sql if requested
	if cfg.PGDSN != "" && cfg.RunMigrations {
		migrate(cfg.PGDSN, logger)
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := eventloop.New(256, logger)
	go loop.Run(loopCtx)

	header := http.Header{}
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}

	var positions geo.Source
	if cfg.RedisAddr != "" {
		rs := geo.NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, identity.DriverID)
		defer rs.Close()
		positions = rs
	} else {
		positions = geo.NewIndex(30 * time.Second)
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMURL)
	}

	var journal storage.Journal = storage.NewMemoryJournal()
	if cfg.PGDSN != "" {
		pj, err := storage.NewPostgresJournal(ctx, cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres journal unavailable, keeping history in memory", "error", err)
		} else {
			defer pj.Close()
			journal = pj
		}
	}

	var telemetry ingest.Telemetry = ingest.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		telemetry = kp
	}

	hub := presenter.NewHub(logger)
	defer hub.Close()

	sess := session.New(session.Options{
		Identity:            identity,
		WSURL:               cfg.WSURL,
		API:                 rideapi.NewHTTPClient(cfg.APIURL, identity.Token, cfg.ActionTimeout),
		Dialer:              channel.NewWSDialer(header, loop.Post, logger),
		Runtime:             loop,
		Signals:             presenter.Fanout{hub, presenter.Log{Logger: logger}},
		Logger:              logger,
		Base:                loopCtx,
		Positions:           positions,
		ETA:                 estimator,
		Journal:             journal,
		Telemetry:           telemetry,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		ReconnectDelay:      cfg.ReconnectDelay,
		LocationInterval:    cfg.LocationInterval,
		ActionTimeout:       cfg.ActionTimeout,
		DefaultOfferSeconds: cfg.DefaultOfferSeconds,
	})

	if err := sess.Resume(ctx); err != nil {
		logger.Warn("active ride recovery failed", "error", err)
	}
	if cfg.StartOnline {
		switch err := sess.StartOnline(ctx); {
		case errors.Is(err, session.ErrRideActive):
			logger.Info("staying offline, recovered ride is active")
		case err != nil:
			logger.Warn("could not go online at startup", "error", err)
		}
	}

	srv := &http.Server{
		Addr:         cfg.LocalAddr,
		Handler:      httpapi.NewServer(sess, http.HandlerFunc(hub.ServeWS), logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * cfg.ActionTimeout,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("driver agent listening", "addr", cfg.LocalAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := sess.Close(shutdownCtx); err != nil {
		logger.Warn("session close", "error", err)
	}
}

func resolveIdentity(cfg config.DriverConfig) (models.DriverIdentity, error) {
	if cfg.DriverToken == "" {
		return models.DriverIdentity{DriverID: cfg.DriverID}, nil
	}
	id, err := auth.IdentityFromToken(cfg.DriverToken, cfg.JWTSecret)
	if err != nil {
		if cfg.DriverID != 0 {
			return models.DriverIdentity{DriverID: cfg.DriverID, Token: cfg.DriverToken}, nil
		}
		return models.DriverIdentity{}, err
	}
	if cfg.DriverID != 0 && cfg.DriverID != id.DriverID {
		return models.DriverIdentity{}, errors.New("DRIVER_ID does not match token")
	}
	return id, nil
}

func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_journal.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_journal.sql")
}
