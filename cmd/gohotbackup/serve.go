package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/gohotbackup/internal/api"
	"github.com/fgeck/gohotbackup/internal/config"
	"github.com/fgeck/gohotbackup/internal/services/backup"
	"github.com/fgeck/gohotbackup/internal/services/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long running requests may take to drain.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the hot backup command API",
	Long: `Serve the hot backup command API:
1. Load and validate the configuration
2. Check that the backup engine is available
3. Accept start, throttle, status and kill commands over HTTP
4. Expose Prometheus metrics (if enabled)

SIGINT or SIGTERM interrupts running backups and stops the server.`,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("data_dir", cfg.Storage.DataDir).
		Str("log_dir", cfg.Storage.LogDir).
		Str("listen", cfg.Server.Listen).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel(fmt.Errorf("server received %s", sig))
		case <-ctx.Done():
		}
	}()

	backupSvc := backup.New(log.Logger, *cfg, engine.NewCommand(log.Logger, cfg.Engine))

	if _, err := backupSvc.CheckEngine(ctx); err != nil {
		log.Error().Err(err).Msg("cannot serve hot backups")
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.New(log.Logger, backupSvc).Router(cfg.Metrics),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		// Running backups observe the server context and are interrupted on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("command API listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("command API failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("command API did not shut down cleanly")
		return err
	}

	log.Info().Msg("command API stopped")
	return nil
}
