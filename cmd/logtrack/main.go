package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SteelMorgan/logtrack/internal/config"
	"github.com/SteelMorgan/logtrack/internal/observability"
	"github.com/SteelMorgan/logtrack/internal/service"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logCloser, err := observability.InitLogger(observability.LoggerConfig{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.Info().
		Str("version", version).
		Int("watches", len(cfg.Watches)).
		Msg("Starting log tracker")

	// Initialize tracer (no-op when disabled)
	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "logtrack",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	watchSvc, err := service.NewWatchService(cfg, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create watch service")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- watchSvc.Start(ctx)
	}()

	// Wait for shutdown signal or for every tracker to finish
	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("Watch service error")
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := watchSvc.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Log tracker stopped")
}
