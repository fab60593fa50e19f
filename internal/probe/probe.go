// Package probe checks a page over plain HTTP before a browser is spent on it.
// It reports the status code, honors robots.txt and reads the page title.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
)

// Probe failure classes.
var (
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrBadStatus        = errors.New("non-success status")
	ErrUnreachable      = errors.New("page unreachable")
)

// Config controls the probe collector.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Result describes a probed page.
type Result struct {
	URL            string
	StatusCode     int
	Title          string
	Duration       time.Duration
	RobotsFallback bool
}

// Prober issues one GET per Probe call through a fresh colly collector.
type Prober struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Prober with a pooled HTTP transport.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Prober{cfg: cfg, transport: newHTTPTransport(), logger: logging.Component(logger, "probe")}
}

// Probe fetches rawURL. A robots.txt disallow or a non-2xx status is reported
// as invalid input so the caller skips the page.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Result, error) {
	const op = "probe.Probe"
	start := time.Now()
	result := Result{URL: rawURL}
	robots := &robotsState{}

	collector := colly.NewCollector(colly.Async(false))
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.WithTransport(&robotsAwareTransport{base: p.transport, state: robots})

	var respErr error
	collector.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
	})
	collector.OnHTML("head > title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		respErr = err
	})

	err := visit(ctx, collector, rawURL)
	result.Duration = time.Since(start)
	result.RobotsFallback = robots.fallback
	if robots.fallback {
		p.logger.Warn("robots.txt timed out, treating as allow-all", zap.String("url", rawURL))
	}

	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return result, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("%w: %s", ErrRobotsDisallowed, rawURL))
	case result.StatusCode != 0 && (result.StatusCode < 200 || result.StatusCode > 299):
		return result, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("%w: %s returned %d", ErrBadStatus, rawURL, result.StatusCode))
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return result, crawler.E(crawler.KindTimeout, op, fmt.Errorf("%w: %w", ErrUnreachable, err))
		}
		return result, crawler.E(crawler.KindTransientConnectivity, op, fmt.Errorf("%w: %w", ErrUnreachable, err))
	case respErr != nil:
		return result, crawler.E(crawler.KindTransientConnectivity, op, fmt.Errorf("%w: %w", ErrUnreachable, respErr))
	}

	p.logger.Info("page probed",
		zap.String("url", rawURL),
		zap.Int("status", result.StatusCode),
		zap.String("title", result.Title),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func visit(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
