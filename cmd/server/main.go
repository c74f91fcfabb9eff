// Package main runs the cleaning marketplace API server.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/saficlean/marketplace/internal/app"
	"github.com/saficlean/marketplace/internal/app/storage/postgres"
	"github.com/saficlean/marketplace/internal/config"
	"github.com/saficlean/marketplace/internal/platform/migrations"
	"github.com/saficlean/marketplace/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("main").WithError(err).Error("configuration error")
		os.Exit(1)
	}
	log := logger.New("marketplace", cfg.LogLevel)

	stores := app.Stores{}
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrations.Apply(ctx, db); err != nil {
			cancel()
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}
		cancel()

		pg := postgres.New(db)
		stores = app.Stores{
			Users:         pg,
			Jobs:          pg,
			Reviews:       pg,
			Payments:      pg,
			Routes:        pg,
			Locations:     pg,
			Notifications: pg,
		}
		log.Info("connected to postgres")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Error("parse redis url")
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, continuing without cache")
			redisClient = nil
		}
		cancel()
	}

	application, err := app.New(app.Options{
		Config: cfg,
		Stores: stores,
		Redis:  redisClient,
		Log:    log,
	})
	if err != nil {
		log.WithError(err).Error("assemble application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Manager.Start(ctx); err != nil {
		log.WithError(err).Error("start background services")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      application.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr()).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Manager.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("background services shutdown")
	}
	if db != nil {
		_ = db.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("stopped")
}
