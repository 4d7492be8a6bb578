package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/nutrisync/internal/config"
	"github.com/lewisedginton/nutrisync/internal/engine"
	"github.com/lewisedginton/nutrisync/internal/events"
	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/internal/remote"
	"github.com/lewisedginton/nutrisync/internal/store"
	"github.com/lewisedginton/nutrisync/internal/throttle"
	"github.com/lewisedginton/nutrisync/pkg/health"
	"github.com/lewisedginton/nutrisync/pkg/health/checkers"
	"github.com/lewisedginton/nutrisync/pkg/logger"
	"github.com/lewisedginton/nutrisync/pkg/metrics"
)

func main() {
	app := &cli.App{
		Name:    "syncd",
		Usage:   "Synchronizes local nutrition records with the remote API",
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
		Before: func(ctx *cli.Context) error {
			logLevel := logger.ParseLevel(ctx.String("log-level"))
			log := logger.NewLogger(logger.Config{
				Level:   logLevel,
				Format:  "json",
				Service: "syncd",
			})
			ctx.App.Metadata = map[string]interface{}{
				"logger": log,
			}
			return nil
		},
		Commands: []*cli.Command{
			syncCommand(),
			daemonCommand(),
			clearThrottleCommand(),
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loggerFrom(ctx *cli.Context) logger.Logger {
	return ctx.App.Metadata["logger"].(logger.Logger)
}

// runtime wires the store, client, throttle and engine from configuration.
type runtime struct {
	cfg      config.AppConfig
	store    *store.Store
	manager  *store.Manager
	engine   *engine.Engine
	bus      *events.Bus
	throttle *throttle.Controller
	metrics  metrics.Metrics
	log      logger.Logger
}

func newRuntime(ctx *cli.Context) (*runtime, error) {
	log := loggerFrom(ctx)
	cfg, err := config.LoadApp(ctx.String("config-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	manager := store.NewManager(log)
	s, err := manager.Acquire(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	}, log)
	tc := throttle.NewController(s, cfg.Sync.Cooldown)
	bus := events.NewBus()
	m := metrics.NewMetrics(false, true, log)

	return &runtime{
		cfg:      cfg,
		store:    s,
		manager:  manager,
		engine:   engine.New(s, client, tc, bus, &m, log),
		bus:      bus,
		throttle: tc,
		metrics:  m,
		log:      log,
	}, nil
}

func (rt *runtime) close() {
	rt.manager.Release(rt.cfg.Storage.Dir)
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one manual full sync and exit",
		Action: func(ctx *cli.Context) error {
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.engine.SyncAll(ctx.Context, true)
			if err != nil {
				return err
			}
			if res.Skipped {
				rt.log.Info("Sync skipped: no remote credentials configured")
				return nil
			}
			for _, collection := range model.SyncedCollections() {
				cr := res.Collections[collection]
				rt.log.Info("Collection synced",
					logger.StringField("collection", collection),
					logger.IntField("changed", cr.Changed))
			}
			return nil
		},
	}
}

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run periodic background sync until interrupted",
		Action: func(ctx *cli.Context) error {
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if rt.cfg.Metrics.Enabled {
				rt.metrics.Listen(rt.cfg.Metrics.Port)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = rt.metrics.Shutdown(shutdownCtx)
				}()
			}

			checker := health.New(health.WithLogger(rt.log), health.WithFailureThreshold(1))
			if rt.cfg.Remote.BaseURL != "" {
				checker.Add(checkers.NewHTTPChecker(rt.cfg.Remote.BaseURL+"/ping", "remote-api"))
			}

			rt.log.Info("Sync daemon started",
				logger.DurationField("interval", rt.cfg.Sync.Interval),
				logger.DurationField("cooldown", rt.cfg.Sync.Cooldown))

			ticker := time.NewTicker(rt.cfg.Sync.Interval)
			defer ticker.Stop()

			rt.runAutoSync(runCtx, checker)
			for {
				select {
				case <-runCtx.Done():
					rt.log.Info("Sync daemon stopping")
					return nil
				case <-ticker.C:
					rt.runAutoSync(runCtx, checker)
				}
			}
		},
	}
}

func (rt *runtime) runAutoSync(ctx context.Context, checker *health.Checker) {
	if _, err := checker.Run(ctx); err != nil {
		rt.log.Warn("Skipping sync: remote is unreachable", logger.ErrorField(err))
		return
	}
	res, err := rt.engine.SyncAll(ctx, false)
	if err != nil {
		rt.log.Error("Background sync failed", logger.ErrorField(err))
		return
	}
	if res.Skipped {
		rt.log.Debug("Background sync skipped by throttle")
		return
	}
	changed := 0
	for _, cr := range res.Collections {
		changed += cr.Changed
	}
	rt.log.Info("Background sync completed", logger.IntField("records_changed", changed))
}

func clearThrottleCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-throttle",
		Usage: "Remove the sync throttle markers so the next automatic sync runs immediately",
		Action: func(ctx *cli.Context) error {
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.throttle.Clear(); err != nil {
				return err
			}
			rt.log.Info("Throttle markers cleared")
			return nil
		},
	}
}
