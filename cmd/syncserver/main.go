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

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/nutrisync/internal/config"
	"github.com/lewisedginton/nutrisync/internal/syncserver"
	"github.com/lewisedginton/nutrisync/pkg/httpmiddleware"
	"github.com/lewisedginton/nutrisync/pkg/logger"
	"github.com/lewisedginton/nutrisync/pkg/metrics"
)

func main() {
	app := &cli.App{
		Name:    "syncserver",
		Usage:   "Reference server for the nutrition sync API",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config-file",
				Value:   "",
				Usage:   "Path to configuration file",
				EnvVars: []string{"CONFIG_FILE"},
			},
		},
		Action: run,
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log := logger.NewLogger(logger.Config{
		Level:   logger.ParseLevel(ctx.String("log-level")),
		Format:  "json",
		Service: "syncserver",
	})

	cfg, err := config.LoadServer(ctx.String("config-file"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recordStore syncserver.RecordStore
	if cfg.Database.URL != "" {
		recordStore, err = syncserver.NewPostgresStore(runCtx, cfg.Database.URL, log)
		if err != nil {
			return err
		}
		log.Info("Using PostgreSQL record store")
	} else {
		recordStore = syncserver.NewMemoryStore()
		log.Warn("No database configured, records are held in memory only")
	}
	defer recordStore.Close()

	tokenOwners := make(map[string]string, len(cfg.Server.Tokens))
	for _, token := range cfg.Server.Tokens {
		tokenOwners[token] = token
	}

	m := metrics.NewMetrics(true, false, log)
	if cfg.Metrics.Enabled {
		m.Listen(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.Shutdown(shutdownCtx)
		}()
	}

	router := chi.NewRouter()
	middlewareConfig := httpmiddleware.DefaultConfig()
	middlewareConfig.Logger = log
	middlewareConfig.EnableLogging = true
	if len(cfg.Server.AllowedOrigins) > 0 {
		middlewareConfig.CORS.AllowedOrigins = cfg.Server.AllowedOrigins
	}
	httpmiddleware.ApplyToRouter(router, middlewareConfig)
	router.Use(m.HTTPMiddleware())

	syncserver.NewServer(recordStore, tokenOwners, log).Routes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Sync server listening", logger.IntField("port", cfg.Server.Port))
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-runCtx.Done():
		log.Info("Shutting down sync server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
