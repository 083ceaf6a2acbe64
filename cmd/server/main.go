// Package main is the entry point for the capital stack allocator service.
// The service exposes a single nontrivial computation - allocating a
// project's total development cost across candidate funding instruments at
// minimum blended cost - behind a small HTTP API with append-only result
// history.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/capstack/internal/config"
	"github.com/aristath/capstack/internal/database"
	"github.com/aristath/capstack/internal/modules/stack"
	"github.com/aristath/capstack/internal/scheduler"
	"github.com/aristath/capstack/internal/server"
	"github.com/aristath/capstack/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting capital stack allocator")

	// History database: append-only record of allocation results
	historyDB, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath(),
		Profile: database.ProfileLedger,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	repo, err := stack.NewRepository(historyDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history repository")
	}

	allocator := stack.NewAllocator(log)

	// Result cache is optional; the service is fully functional without it
	var cache stack.ResultCache
	var pinger server.CachePinger
	if cfg.RedisAddr != "" {
		redisCache := stack.NewRedisCache(cfg.RedisAddr, 24*time.Hour, log)
		cache = redisCache
		pinger = redisCache
		log.Info().Str("addr", cfg.RedisAddr).Msg("Result cache enabled")
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		HistoryDB: historyDB,
		Allocator: allocator,
		Repo:      repo,
		Cache:     cache,
		Pinger:    pinger,
		DevMode:   cfg.DevMode,
	})

	// Background retention sweep keeps the history database bounded
	sched := scheduler.New(log)
	retention := stack.NewRetentionJob(repo, time.Duration(cfg.HistoryRetentionDays)*24*time.Hour, log)
	if err := sched.AddJob(cfg.RetentionSchedule, retention); err != nil {
		log.Fatal().Err(err).Msg("Failed to register retention job")
	}
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	// Give in-flight requests up to 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Checkpoint the WAL so the database file is consistent on disk
	if err := historyDB.WALCheckpoint(""); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Server stopped")
}
