package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/column-analyzer/internal/app"
	"github.com/dvloznov/column-analyzer/internal/config"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

func main() {
	configFile := flag.String("config", os.Getenv("COLUMN_ANALYZER_CONFIG"), "config file (or set COLUMN_ANALYZER_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}

	// A failed first load leaves the registry empty; analysis requests get
	// 503 until the refresher succeeds.
	if n, err := a.LoadTemplates(ctx); err != nil {
		log.Error().Err(err).Str("source", cfg.Templates.Source).Msg("Initial template load failed")
	} else {
		log.Info().Int("count", n).Str("source", cfg.Templates.Source).Msg("Templates loaded")
	}

	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("oracle", a.Analyzer.OracleName()).
			Bool("gcs_jobs", a.Queue != nil).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stops the refresher and waits for in-flight jobs.
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error releasing resources")
	}

	log.Info().Msg("Server exited")
}
