// Package server builds the application graph and runs the HTTP server and
// scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/price-sentinel/internal/api"
	"github.com/JakeFAU/price-sentinel/internal/capture"
	"github.com/JakeFAU/price-sentinel/internal/config"
	"github.com/JakeFAU/price-sentinel/internal/extract"
	"github.com/JakeFAU/price-sentinel/internal/notify"
	"github.com/JakeFAU/price-sentinel/internal/orchestrator"
	"github.com/JakeFAU/price-sentinel/internal/probe"
	"github.com/JakeFAU/price-sentinel/internal/reminder"
	"github.com/JakeFAU/price-sentinel/internal/scheduler"
	"github.com/JakeFAU/price-sentinel/internal/storage"
	gcsarchive "github.com/JakeFAU/price-sentinel/internal/storage/gcs"
	localarchive "github.com/JakeFAU/price-sentinel/internal/storage/local"
	pgstore "github.com/JakeFAU/price-sentinel/internal/storage/postgres"
	"github.com/JakeFAU/price-sentinel/internal/telemetry"
)

// Version is stamped into telemetry resources.
var Version = "dev"

const (
	shutdownTimeout = 10 * time.Second
	// captureOverhead covers browser startup and overlay dismissal on top of
	// the configured page timeouts.
	captureOverhead = 15 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	providers *telemetry.Providers
	store     *pgstore.Store
	closers   []namedCloser

	orchestrator *orchestrator.Orchestrator
	reminders    *reminder.Checker
	scheduler    *scheduler.Scheduler
	api          *api.Server
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Build creates the application's dependencies. Anything opened before a
// failure is released before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = app.Close(closeCtx)
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("capture_engine", cfg.Capture.Engine),
		zap.String("archive", cfg.Capture.Archive),
		zap.String("notify_backend", cfg.Notify.Backend),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	app.providers, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		Version:        Version,
		ProjectID:      cfg.Telemetry.ProjectID,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return app, fmt.Errorf("telemetry init failed: %w", err)
	}

	if err = app.setupDatabase(ctx); err != nil {
		return app, err
	}

	pipeline, err := app.setupPipeline(ctx)
	if err != nil {
		return app, err
	}

	notifier, err := app.setupNotifier(ctx)
	if err != nil {
		return app, err
	}
	app.reminders = reminder.NewChecker(app.store, notifier, cfg.Notify.Subject, logger)

	app.orchestrator, err = orchestrator.New(orchestrator.Config{
		Prompt:         cfg.Extract.Prompt,
		CaptureTimeout: captureTimeout(cfg.Capture),
		BatchSize:      cfg.Crawl.BatchSize,
		KeepSnapshots:  cfg.Capture.KeepSnapshots,
	}, pipeline, logger)
	if err != nil {
		return app, fmt.Errorf("orchestrator init failed: %w", err)
	}

	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.New(logger,
			scheduler.Job{Name: "crawl_all", Interval: cfg.Scheduler.CrawlInterval, Run: app.crawlAll},
			scheduler.Job{Name: "check_reminders", Interval: cfg.Scheduler.ReminderInterval, Run: app.checkReminders},
		)
	}

	app.api = api.NewServer(api.Deps{
		Crawler:   app.orchestrator,
		Store:     app.store,
		Reminders: app.reminders,
		Pinger:    app.store,
	}, api.Options{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		BatchSize:      cfg.Crawl.BatchSize,
	}, logger)

	return app, nil
}

// Crawler returns the crawl pipeline.
func (a *App) Crawler() api.Crawler { return a.orchestrator }

// Checker returns the reminder checker.
func (a *App) Checker() api.ReminderChecker { return a.reminders }

func captureTimeout(cc config.CaptureConfig) time.Duration {
	return cc.PageLoadTimeout + cc.BodyWaitTimeout + cc.SettleMax + captureOverhead
}

func (a *App) setupDatabase(ctx context.Context) error {
	st, err := pgstore.Open(ctx, pgstore.Config{
		URL:             a.cfg.Database.URL,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		RetryAttempts:   a.cfg.Database.RetryAttempts,
		RetryBaseDelay:  a.cfg.Database.RetryBaseDelay,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.store = st
	if a.cfg.Database.EnsureSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema failed: %w", err)
		}
		a.logger.Info("database schema ensured")
	}
	return nil
}

func (a *App) setupPipeline(ctx context.Context) (orchestrator.Deps, error) {
	cc := a.cfg.Capture
	if err := os.MkdirAll(cc.SnapshotDir, 0o750); err != nil {
		return orchestrator.Deps{}, fmt.Errorf("create snapshot dir: %w", err)
	}
	capturer, err := capture.New(capture.Config{
		Engine:          cc.Engine,
		RemoteURL:       cc.RemoteURL,
		SnapshotDir:     cc.SnapshotDir,
		PageLoadTimeout: cc.PageLoadTimeout,
		BodyWaitTimeout: cc.BodyWaitTimeout,
		SettleMin:       cc.SettleMin,
		SettleMax:       cc.SettleMax,
		UserAgent:       cc.UserAgent,
		MaxParallel:     cc.MaxParallel,
		DomainQPS:       cc.DomainQPS,
		Grayscale:       cc.Grayscale,
	}, a.logger)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("capture init failed: %w", err)
	}

	var client extract.ModelClient
	if a.cfg.Extract.APIKey != "" {
		gemini, err := extract.NewGeminiClient(ctx, a.cfg.Extract.APIKey)
		if err != nil {
			return orchestrator.Deps{}, fmt.Errorf("model client init failed: %w", err)
		}
		client = gemini
	} else {
		a.logger.Warn("extract.api_key is not set; crawls will fail with config_missing")
	}
	extractor := extract.New(extract.Config{
		APIKey:             a.cfg.Extract.APIKey,
		Model:              a.cfg.Extract.Model,
		Timeout:            a.cfg.Extract.Timeout,
		NameFallbackFields: a.cfg.Extract.NameFallbackFields,
		NameKeywords:       a.cfg.Extract.NameKeywords,
		PriceKeywords:      a.cfg.Extract.PriceKeywords,
	}, client, a.logger)

	deps := orchestrator.Deps{
		Capturer:  capturer,
		Extractor: extractor,
		Store:     a.store,
	}
	if a.cfg.Crawl.ProbeEnabled {
		deps.Prober = probe.New(probe.Config{
			UserAgent:     cc.UserAgent,
			RespectRobots: a.cfg.Crawl.RespectRobots,
			Timeout:       a.cfg.Crawl.ProbeTimeout,
		}, a.logger)
		a.logger.Info("probe stage enabled", zap.Bool("respect_robots", a.cfg.Crawl.RespectRobots))
	}

	deps.Archive, err = a.setupArchive(ctx)
	if err != nil {
		return orchestrator.Deps{}, err
	}
	return deps, nil
}

func (a *App) setupArchive(ctx context.Context) (storage.Archive, error) {
	switch a.cfg.Capture.Archive {
	case "local":
		archive, err := localarchive.New(a.cfg.Capture.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("dir", a.cfg.Capture.ArchiveDir))
		return archive, nil
	case "gcs":
		archive, err := gcsarchive.Dial(ctx, a.cfg.Capture.ArchiveBucket)
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "gcs archive", c: archive})
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Capture.ArchiveBucket))
		return archive, nil
	default:
		return nil, nil
	}
}

func (a *App) setupNotifier(ctx context.Context) (notify.Notifier, error) {
	if a.cfg.Notify.Backend != "pubsub" {
		return notify.NewLogNotifier(a.logger), nil
	}
	n, err := notify.NewPubSubNotifier(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "pubsub notifier", c: n})
	a.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", a.cfg.Notify.ProjectID),
		zap.String("topic", a.cfg.Notify.Topic),
	)
	return n, nil
}

func (a *App) crawlAll(ctx context.Context) error {
	outcomes, err := a.orchestrator.CrawlAll(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	a.logger.Info("scheduled crawl finished", zap.Int("crawls", len(outcomes)), zap.Int("failed", failed))
	return nil
}

func (a *App) checkReminders(ctx context.Context) error {
	report, err := a.reminders.CheckReminders(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("scheduled reminder check finished",
		zap.Int("subscriptions", report.Subscriptions),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// Run serves HTTP and runs the scheduler until ctx is canceled, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close releases clients, the database pool and telemetry providers.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", a.closers[i].name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.providers != nil {
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
			errs = append(errs, err)
		}
		a.providers = nil
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
