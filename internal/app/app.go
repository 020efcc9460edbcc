package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mail-aggregator-go/internal/classifier"
	"mail-aggregator-go/internal/config"
	"mail-aggregator-go/internal/cursor"
	"mail-aggregator-go/internal/db"
	"mail-aggregator-go/internal/handlers"
	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/metrics"
	"mail-aggregator-go/internal/notifier"
	"mail-aggregator-go/internal/orchestrator"
	"mail-aggregator-go/internal/pipeline"
	"mail-aggregator-go/internal/repository"
	"mail-aggregator-go/internal/server"
	"mail-aggregator-go/internal/session"
	"mail-aggregator-go/internal/syncer"
)

// Run initializes and starts the application
func Run(configFile string) error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Mail Aggregator Service")

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	cursors, err := newCursorStore(cfg.Cursor, dbConn)
	if err != nil {
		return fmt.Errorf("failed to open cursor store: %w", err)
	}

	ctx := context.Background()
	notifiers, err := notifier.FromConfig(ctx, cfg.Notifiers)
	if err != nil {
		return fmt.Errorf("failed to create notifiers: %w", err)
	}
	if len(notifiers) == 0 {
		logrus.Warn("No notifiers configured, interested messages will only be indexed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	repo := repository.New(dbConn)
	p := pipeline.New(
		classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout),
		notifiers,
		repo,
		cursors,
		pipeline.Options{IncludeBody: cfg.Classifier.IncludeBody, Journal: repo, Metrics: m},
	)

	orch := orchestrator.New(cfg.Accounts, session.Config{
		Dialer:       mailbox.NewIMAPDialer(cfg.Sync.IdleRefresh),
		Syncer:       syncer.New(cursors, p, syncer.NewLocks(), m),
		WatchTimeout: cfg.Sync.WatchTimeout,
	}, orchestrator.Options{
		BackfillWindow: cfg.Sync.BackfillWindow,
		RescanSchedule: cfg.Sync.RescanSchedule,
		Metrics:        m,
	})

	srv := server.New(cfg.Server, handlers.NewHandlers(repo, orch, reg))

	if err := orch.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Stop(); err != nil {
		logrus.Errorf("Failed to stop orchestrator: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if c, ok := cursors.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logrus.Errorf("Failed to close cursor store: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// newCursorStore opens the configured cursor backend
func newCursorStore(cfg config.CursorConfig, dbConn *gorm.DB) (cursor.Store, error) {
	switch cfg.Driver {
	case config.CursorFile:
		logrus.WithField("path", cfg.Path).Info("Using file cursor store")
		return cursor.OpenFile(cfg.Path)
	case config.CursorDatabase, "":
		return cursor.NewGormStore(dbConn), nil
	default:
		return nil, fmt.Errorf("unsupported cursor driver %q", cfg.Driver)
	}
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Invalid log level %q, keeping %s", level, logrus.GetLevel())
		return
	}
	logrus.SetLevel(lvl)
}
