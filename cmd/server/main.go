// Package main is the entry point for the riskwatch service: it wires
// the SQLite store, the Binance and Dune clients, the ingestion
// scheduler, and the HTTP API, then runs until signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riskwatch/riskwatch/internal/analysis/align"
	"github.com/riskwatch/riskwatch/internal/analysis/risk"
	"github.com/riskwatch/riskwatch/internal/clients/binance"
	"github.com/riskwatch/riskwatch/internal/clients/dune"
	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/ingest"
	"github.com/riskwatch/riskwatch/internal/scheduler"
	"github.com/riskwatch/riskwatch/internal/server"
	"github.com/riskwatch/riskwatch/internal/storage"
	"github.com/riskwatch/riskwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Int("port", cfg.Port).Bool("dev_mode", cfg.DevMode).Msg("Starting riskwatch")

	db, err := database.New(database.Config{
		Path: cfg.DatabaseURL,
		Name: "riskwatch",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := database.InitSchema(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	spotRepo := storage.NewSpotRepository(db.Conn(), log)
	futuresRepo := storage.NewFuturesRepository(db.Conn(), log)
	lendingRepo := storage.NewLendingRepository(db.Conn(), log)
	backfillRepo := storage.NewBackfillRepository(db.Conn(), log)

	binanceClient := binance.New(binance.Config{
		RequestsPerMinute: cfg.BinanceRateLimitPerMinute,
		MinRequestDelay:   time.Duration(cfg.BinanceRequestDelayMs) * time.Millisecond,
	}, log)
	duneClient := dune.New(dune.Config{
		APIKey:  cfg.DuneAPIKey,
		QueryID: cfg.DuneLendingQueryID,
	}, log)

	ingestSvc := ingest.New(cfg, binanceClient, duneClient, spotRepo, futuresRepo, lendingRepo, backfillRepo, log)
	jobs := ingest.NewJobRegistry(log)

	loader := align.NewLoader(spotRepo, futuresRepo, lendingRepo, log)
	riskEngine := risk.NewEngine(loader, cfg, log)

	sched := scheduler.New(cfg, ingestSvc, log)
	if err := sched.Register(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}

	srv := server.New(server.Config{
		Log:      log,
		DB:       db,
		Config:   cfg,
		Spot:     spotRepo,
		Futures:  futuresRepo,
		Lending:  lendingRepo,
		Backfill: backfillRepo,
		Risk:     riskEngine,
		Ingest:   ingestSvc,
		Jobs:     jobs,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	schedCtx, cancelSched := context.WithCancel(context.Background())
	sched.Start(schedCtx)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	cancelSched()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
