package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/marketops/alertd/internal/config"
	"github.com/marketops/alertd/internal/database"
	"github.com/marketops/alertd/internal/engine"
	"github.com/marketops/alertd/internal/metrics"
	"github.com/marketops/alertd/internal/metricsource"
	"github.com/marketops/alertd/internal/notify"
	"github.com/marketops/alertd/internal/state"
	"github.com/marketops/alertd/pkg/logger"
	"github.com/marketops/alertd/pkg/version"
)

// tickTimeout bounds one full evaluation pass
const tickTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	coordinator, store, err := buildEngine(cfg, log, flag.Arg(0) == "daemon")
	if err != nil {
		log.WithError(err).Error("Failed to initialize alert engine")
		os.Exit(1)
	}
	defer store.Close()

	switch flag.Arg(0) {
	case "", "run":
		// One full tick; exit code says whether the tick itself failed, not
		// whether alerts fired.
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		if err := coordinator.Tick(ctx); err != nil {
			log.WithError(err).Error("Tick failed")
			os.Exit(1)
		}
	case "daemon":
		runDaemon(cfg, coordinator, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run or daemon)\n", flag.Arg(0))
		os.Exit(1)
	}
}

// buildEngine wires the coordinator from configuration. The sample source is
// always the dashboard database; the state backend is selectable.
func buildEngine(cfg *config.Config, log *logrus.Logger, withMetrics bool) (*engine.Coordinator, state.Store, error) {
	rules, err := config.LoadRules(cfg.Rules.Path)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, nil, err
	}

	var store state.Store
	switch cfg.State.Backend {
	case "file":
		fs, err := state.NewFileStore(cfg.State.Path, log)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		store = fs
	default:
		store = state.NewSQLiteStore(db, log)
	}

	channels, err := cfg.Channels()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if len(channels) == 0 {
		log.Warn("No notification channels enabled, alerts will only be logged")
	}

	var collector *metrics.Collector
	if withMetrics {
		collector = metrics.NewCollector()
	}

	coordinator := engine.New(
		rules,
		metricsource.NewSQLiteSource(db, log),
		store,
		engine.NewSuppressionPolicy(cfg.Suppression.SameAlertInterval(), cfg.Suppression.MaxAlertsPerHour, log),
		notify.NewDispatcher(channels, cfg.Notifications.Timeout(), log),
		collector,
		log,
	)
	return coordinator, store, nil
}

// runDaemon schedules ticks with cron and serves prometheus metrics until
// interrupted
func runDaemon(cfg *config.Config, coordinator *engine.Coordinator, log *logrus.Logger) {
	c := cron.New()
	_, err := c.AddFunc(cfg.Daemon.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		if err := coordinator.Tick(ctx); err != nil {
			log.WithError(err).Error("Tick failed")
		}
	})
	if err != nil {
		log.WithError(err).WithField("schedule", cfg.Daemon.Schedule).Error("Invalid daemon schedule")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         cfg.Daemon.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.Daemon.MetricsAddr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	c.Start()
	log.WithField("schedule", cfg.Daemon.Schedule).Infof("alertd %s daemon started", version.GetVersion())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cronCtx := c.Stop()
	<-cronCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Metrics server forced shutdown")
	}
}
