// Package extract turns a page screenshot into product records by asking a
// vision model to read it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
)

// Extraction failure classes. Each is wrapped in a *crawler.Error.
var (
	ErrConfigMissing   = errors.New("extractor config missing")
	ErrImageUnreadable = errors.New("image unreadable")
	ErrModelCallFailed = errors.New("model call failed")
	ErrParseFailed     = errors.New("model reply not parseable")
)

// UnknownProduct names records whose name could not be recovered.
const UnknownProduct = "Unknown Product"

// ModelClient sends one image and one prompt to a vision model and returns
// its text reply.
type ModelClient interface {
	Generate(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error)
}

// Config holds credentials and parsing knobs.
type Config struct {
	APIKey             string
	Model              string
	Timeout            time.Duration
	NameFallbackFields []string
	NameKeywords       []string
	PriceKeywords      []string
}

// Extractor reads screenshots through a ModelClient.
type Extractor struct {
	cfg    Config
	client ModelClient
	logger *zap.Logger
}

// New builds an Extractor. Missing credentials are reported by Extract, not here,
// so a process without a key can still serve catalog requests.
func New(cfg Config, client ModelClient, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, client: client, logger: logging.Component(logger, "extract")}
}

// Extract sends the image at imagePath with prompt to the model and parses the
// reply. sourceURL is stored as the link of every record. A reply that cannot
// be decoded falls back to a single heuristic record instead of failing.
func (e *Extractor) Extract(ctx context.Context, imagePath, prompt, sourceURL string) ([]crawler.ProductRecord, error) {
	const op = "extract.Extract"
	if err := e.checkConfig(prompt); err != nil {
		return nil, crawler.E(crawler.KindConfigMissing, op, err)
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("%w: %w", ErrImageUnreadable, err))
	}
	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, crawler.E(crawler.KindInvalidInput, op,
			fmt.Errorf("%w: %s is %s", ErrImageUnreadable, imagePath, mimeType))
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	logger := e.logger.With(zap.String("url", sourceURL), zap.String("model", e.cfg.Model))
	logger.Debug("sending screenshot to model", zap.Int("bytes", len(image)))

	reply, err := e.client.Generate(ctx, e.cfg.Model, prompt, image, mimeType)
	if err != nil {
		kind := crawler.KindTransientConnectivity
		if errors.Is(err, context.DeadlineExceeded) {
			kind = crawler.KindTimeout
		}
		return nil, crawler.E(kind, op, fmt.Errorf("%w: %w", ErrModelCallFailed, err))
	}

	records, err := e.Parse(reply, sourceURL)
	if err != nil {
		logger.Warn("model reply not parseable, using heuristic record", zap.Error(err))
		return []crawler.ProductRecord{e.Heuristic(reply, sourceURL)}, nil
	}
	logger.Info("extracted records", zap.Int("count", len(records)))
	return records, nil
}

func (e *Extractor) checkConfig(prompt string) error {
	var missing []string
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(e.cfg.Model) == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(prompt) == "" {
		missing = append(missing, "prompt")
	}
	if e.client == nil {
		missing = append(missing, "model client")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigMissing, strings.Join(missing, ", "))
	}
	return nil
}
