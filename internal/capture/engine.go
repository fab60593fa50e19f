package capture

import (
	"context"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Engine names the browser backend.
type Engine string

const (
	// EngineChromium launches a local headless Chromium per capture.
	EngineChromium Engine = "chromium"
	// EngineRemote attaches to an already running browser over its DevTools websocket.
	EngineRemote Engine = "remote"
)

// ResolveEngine maps a configured engine name to an Engine. Unrecognized names,
// and a remote engine without a URL, fall back to Chromium.
func ResolveEngine(name, remoteURL string, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "chromium", "chrome", "headless":
		return EngineChromium
	case "remote":
		if strings.TrimSpace(remoteURL) == "" {
			logger.Warn("remote engine selected without remote_url, using chromium")
			return EngineChromium
		}
		return EngineRemote
	default:
		logger.Warn("unknown capture engine, using chromium", zap.String("engine", name))
		return EngineChromium
	}
}

func (c *Capturer) newAllocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.engine == EngineRemote {
		return chromedp.NewRemoteAllocator(ctx, c.cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, execOptions(c.cfg.UserAgent)...)
}

// execOptions is the fixed option set for local Chromium.
func execOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(ViewportWidth, ViewportHeight),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	return opts
}
