// Package orchestrator runs the capture, extract and persist pipeline for one
// URL at a time, and in fixed-size concurrent groups for many URLs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/metrics"
	"github.com/JakeFAU/price-sentinel/internal/probe"
	"github.com/JakeFAU/price-sentinel/internal/storage"
	"github.com/JakeFAU/price-sentinel/internal/store"
	"github.com/JakeFAU/price-sentinel/internal/telemetry"
)

// Capturer renders a URL into a screenshot file.
type Capturer interface {
	Capture(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Extractor reads product records from a screenshot.
type Extractor interface {
	Extract(ctx context.Context, imagePath, prompt, sourceURL string) ([]crawler.ProductRecord, error)
}

// Prober checks a URL over plain HTTP before capture.
type Prober interface {
	Probe(ctx context.Context, url string) (probe.Result, error)
}

// Config tunes the pipeline.
type Config struct {
	Prompt         string
	CaptureTimeout time.Duration
	BatchSize      int
	KeepSnapshots  bool
}

// Deps are the pipeline collaborators. Archive and Prober are optional.
type Deps struct {
	Capturer  Capturer
	Extractor Extractor
	Store     store.PipelineStore
	Archive   storage.Archive
	Prober    Prober
}

// Orchestrator sequences one crawl: capture, extract, then persist according
// to the target's classification.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New validates the collaborators and builds an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Capturer == nil || deps.Extractor == nil || deps.Store == nil {
		return nil, errors.New("orchestrator requires a capturer, an extractor and a store")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logging.Component(logger, "orchestrator"),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}, nil
}

// RunCrawl captures target.URL, extracts its records and stores them. The
// first failing stage ends the crawl and its error is returned in the Outcome.
// Nothing is written unless capture and extraction both succeed.
func (o *Orchestrator) RunCrawl(ctx context.Context, target crawler.Target) crawler.Outcome {
	start := o.now()
	if target.Class == "" {
		target.Class = crawler.ClassCompetitor
	}
	ctx, span := o.tracer.Start(ctx, "crawl", trace.WithAttributes(
		attribute.String("url", target.URL),
		attribute.String("classification", string(target.Class)),
		attribute.Int64("crawl_id", target.CrawlID),
	))
	defer span.End()

	logger := o.logger.With(zap.String("url", target.URL), zap.String("classification", string(target.Class)))
	out, err := o.run(ctx, target, logger)
	out.URL = target.URL
	out.Class = target.Class
	out.Duration = o.now().Sub(start)

	status := "success"
	if err != nil {
		out.Success = false
		out.Err = err
		status = string(crawler.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("crawl failed", zap.String("kind", status), zap.Error(err), zap.Duration("duration", out.Duration))
	} else {
		out.Success = true
		logger.Info("crawl stored",
			zap.Int64("product_id", out.ProductID),
			zap.Int64("enemy_id", out.EnemyID),
			zap.Int64("crawl_id", out.CrawlID),
			zap.Int("logs", len(out.LogIDs)),
			zap.Duration("duration", out.Duration),
		)
	}
	metrics.ObserveCrawl(target.URL, string(target.Class), status)
	return out
}

func (o *Orchestrator) run(ctx context.Context, target crawler.Target, logger *zap.Logger) (crawler.Outcome, error) {
	const op = "orchestrator.RunCrawl"
	var out crawler.Outcome

	if target.Class != crawler.ClassOwn && target.Class != crawler.ClassCompetitor {
		return out, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("unknown classification %q", target.Class))
	}

	if o.deps.Prober != nil {
		if err := o.stage(ctx, "probe", func(ctx context.Context) error {
			_, err := o.deps.Prober.Probe(ctx, target.URL)
			return err
		}); err != nil {
			return out, err
		}
	}

	var snapshot string
	if err := o.stage(ctx, "capture", func(ctx context.Context) error {
		var err error
		snapshot, err = o.deps.Capturer.Capture(ctx, target.URL, o.cfg.CaptureTimeout)
		return err
	}); err != nil {
		return out, err
	}
	defer o.discardSnapshot(snapshot, logger)

	var records []crawler.ProductRecord
	if err := o.stage(ctx, "extract", func(ctx context.Context) error {
		var err error
		records, err = o.deps.Extractor.Extract(ctx, snapshot, o.cfg.Prompt, target.URL)
		return err
	}); err != nil {
		return out, err
	}
	if len(records) == 0 {
		return out, crawler.E(crawler.KindParseFailure, op, errors.New("extractor returned no records"))
	}

	if uri := o.archiveSnapshot(ctx, snapshot, logger); uri != "" {
		for _, rec := range records {
			rec[crawler.FieldSnapshotURI] = uri
		}
	}
	out.Records = records

	err := o.stage(ctx, "persist", func(ctx context.Context) error {
		var err error
		if target.Class == crawler.ClassOwn {
			err = o.persistOwn(ctx, target, records, &out)
		} else {
			err = o.persistCompetitor(ctx, target, records, &out)
		}
		return err
	})
	return out, err
}

// stage runs fn inside a child span and records its duration.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, snapshot string, logger *zap.Logger) string {
	if o.deps.Archive == nil {
		return ""
	}
	f, err := os.Open(snapshot)
	if err != nil {
		logger.Warn("open snapshot for archive", zap.Error(err))
		return ""
	}
	defer f.Close()

	uri, err := o.deps.Archive.Put(ctx, storage.SnapshotKey(o.now(), snapshot), "image/png", f)
	if err != nil {
		logger.Warn("archive snapshot", zap.Error(err))
		return ""
	}
	logger.Debug("snapshot archived", zap.String("uri", uri))
	return uri
}

func (o *Orchestrator) discardSnapshot(path string, logger *zap.Logger) {
	if o.cfg.KeepSnapshots || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove snapshot", zap.String("path", path), zap.Error(err))
	}
}
