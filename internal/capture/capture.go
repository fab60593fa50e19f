// Package capture renders a page in headless Chrome and saves one screenshot
// of it for extraction.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/metrics"
	"github.com/JakeFAU/price-sentinel/internal/ratelimit"
)

// Capture failure classes. Each is wrapped in a *crawler.Error.
var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrTimeout       = errors.New("capture timed out")
	ErrDriverFailure = errors.New("browser driver failure")
)

// Viewport is the fixed browser window size.
const (
	ViewportWidth  = 1366
	ViewportHeight = 768
)

// Config controls the browser and the capture timings.
type Config struct {
	Engine          string
	RemoteURL       string
	SnapshotDir     string
	PageLoadTimeout time.Duration
	BodyWaitTimeout time.Duration
	SettleMin       time.Duration
	SettleMax       time.Duration
	UserAgent       string
	MaxParallel     int
	DomainQPS       float64
	Grayscale       bool
}

type allocatorFunc func(ctx context.Context) (context.Context, context.CancelFunc)

// Capturer takes page screenshots with a fresh browser per call.
type Capturer struct {
	cfg      Config
	engine   Engine
	logger   *zap.Logger
	sem      chan struct{}
	limiter  *ratelimit.Limiter
	allocate allocatorFunc
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Capturer. An unknown engine falls back to the local Chromium
// engine with a warning.
func New(cfg Config, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.SettleMin > cfg.SettleMax {
		return nil, fmt.Errorf("settle min %s exceeds settle max %s", cfg.SettleMin, cfg.SettleMax)
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 30 * time.Second
	}
	if cfg.BodyWaitTimeout <= 0 {
		cfg.BodyWaitTimeout = 10 * time.Second
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = os.TempDir()
	}
	logger = logging.Component(logger, "capture")

	c := &Capturer{
		cfg:     cfg,
		engine:  ResolveEngine(cfg.Engine, cfg.RemoteURL, logger),
		logger:  logger,
		limiter: ratelimit.New(ratelimit.Config{QPS: cfg.DomainQPS}),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	if cfg.MaxParallel > 0 {
		c.sem = make(chan struct{}, cfg.MaxParallel)
	}
	c.allocate = c.newAllocator
	return c, nil
}

// Engine reports the browser engine in use.
func (c *Capturer) Engine() Engine { return c.engine }

// Capture renders rawURL and writes a PNG screenshot, returning its path.
// timeout, when positive, bounds the browser work on top of the per-stage
// limits; it starts once a browser slot and the host's rate budget are
// granted, so queued captures are limited only by ctx. The browser is always
// shut down before Capture returns.
func (c *Capturer) Capture(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	const op = "capture.Capture"
	target, err := ValidateURL(rawURL)
	if err != nil {
		return "", crawler.E(crawler.KindInvalidInput, op, err)
	}
	release, err := c.acquire(ctx)
	if err != nil {
		return "", classify(op, "wait for browser slot", err)
	}
	defer release()
	if err := c.limiter.Wait(ctx, target.String()); err != nil {
		return "", classify(op, "wait for domain budget", err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	metrics.IncActiveCaptures()
	defer metrics.DecActiveCaptures()

	allocCtx, cancelAlloc := c.allocate(ctx)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	logger := c.logger.With(zap.String("url", rawURL), zap.String("engine", string(c.engine)))
	png, err := c.shoot(ctx, browserCtx, target.String(), logger)
	if err != nil {
		return "", classify(op, "", err)
	}

	if c.cfg.Grayscale {
		gray, gerr := ToGrayscale(png)
		if gerr != nil {
			logger.Warn("grayscale conversion failed, keeping color screenshot", zap.Error(gerr))
		} else {
			png = gray
		}
	}

	path := filepath.Join(c.cfg.SnapshotDir, SnapshotName(target.Host, c.now()))
	if err := os.MkdirAll(c.cfg.SnapshotDir, 0o750); err != nil {
		return "", crawler.E(crawler.KindUnknown, op, fmt.Errorf("create snapshot dir: %w", err))
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", crawler.E(crawler.KindUnknown, op, fmt.Errorf("write screenshot: %w", err))
	}
	logger.Info("screenshot captured", zap.String("path", path), zap.Int("bytes", len(png)))
	return path, nil
}

// shoot runs the browser stages. Each stage has its own deadline so a slow
// page reports which bound it exceeded.
func (c *Capturer) shoot(ctx, browserCtx context.Context, target string, logger *zap.Logger) ([]byte, error) {
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, stageError("start browser", err, ctx)
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, c.cfg.PageLoadTimeout)
	defer cancelNav()
	setup := []chromedp.Action{network.Enable()}
	if c.cfg.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(c.cfg.UserAgent))
	}
	setup = append(setup,
		emulation.SetDeviceMetricsOverride(ViewportWidth, ViewportHeight, 1, false),
		chromedp.Navigate(target),
	)
	if err := chromedp.Run(navCtx, setup...); err != nil {
		return nil, stageError("navigate", err, navCtx)
	}

	waitCtx, cancelWait := context.WithTimeout(browserCtx, c.cfg.BodyWaitTimeout)
	defer cancelWait()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return nil, stageError("wait for body", err, waitCtx)
	}

	if err := c.sleep(ctx, c.settleDelay()); err != nil {
		return nil, stageError("settle", err, ctx)
	}

	c.dismissOverlays(browserCtx, logger)

	shotCtx, cancelShot := context.WithTimeout(browserCtx, c.cfg.PageLoadTimeout)
	defer cancelShot()
	var png []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&png)); err != nil {
		return nil, stageError("screenshot", err, shotCtx)
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("%w: screenshot is empty", ErrDriverFailure)
	}
	return png, nil
}

// dismissOverlays presses Escape twice to close cookie banners and popups.
// Failures are logged only.
func (c *Capturer) dismissOverlays(browserCtx context.Context, logger *zap.Logger) {
	for attempt := 1; attempt <= 2; attempt++ {
		keyCtx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
		err := chromedp.Run(keyCtx, chromedp.KeyEvent(kb.Escape))
		cancel()
		if err != nil {
			logger.Debug("overlay dismissal failed", zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		if err := c.sleep(browserCtx, time.Second); err != nil {
			return
		}
	}
}

func (c *Capturer) settleDelay() time.Duration {
	span := c.cfg.SettleMax - c.cfg.SettleMin
	if span <= 0 {
		return c.cfg.SettleMin
	}
	return c.cfg.SettleMin + rand.N(span)
}

func (c *Capturer) acquire(ctx context.Context) (func(), error) {
	if c.sem == nil {
		return func() {}, nil
	}
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrInvalidURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: url %q has no host", ErrInvalidURL, rawURL)
	}
	return parsed, nil
}

// SnapshotName returns "<domain>_<timestamp>.png" for host at the given time.
// The timestamp has nanosecond resolution so concurrent captures of one
// domain do not collide.
func SnapshotName(host string, at time.Time) string {
	domain := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(strings.ToLower(host))
	return fmt.Sprintf("%s_%d.png", domain, at.UnixNano())
}

func stageError(stage string, err error, stageCtx context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, stage, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDriverFailure, stage, err)
}

func classify(op, stage string, err error) error {
	if stage != "" {
		err = stageError(stage, err, context.Background())
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return crawler.E(crawler.KindTimeout, op, err)
	case errors.Is(err, ErrDriverFailure):
		return crawler.E(crawler.KindTransientConnectivity, op, err)
	default:
		return crawler.E(crawler.KindUnknown, op, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
