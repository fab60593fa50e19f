package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

func newTestCapturer(t *testing.T, cfg Config) (*Capturer, *int) {
	t.Helper()
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	calls := 0
	c.allocate = func(ctx context.Context) (context.Context, context.CancelFunc) {
		calls++
		return context.WithCancel(ctx)
	}
	return c, &calls
}

func TestCaptureRejectsInvalidURLBeforeLaunch(t *testing.T) {
	t.Parallel()

	c, calls := newTestCapturer(t, Config{SnapshotDir: t.TempDir()})
	for _, raw := range []string{"", "   ", "example.com/item", "ftp://example.com/a", "http://"} {
		_, err := c.Capture(context.Background(), raw, time.Second)
		require.Error(t, err, raw)
		require.ErrorIs(t, err, ErrInvalidURL, raw)
		require.Equal(t, crawler.KindInvalidInput, crawler.KindOf(err), raw)
	}
	require.Zero(t, *calls)
}

func TestCaptureTimesOutWaitingForSlot(t *testing.T) {
	t.Parallel()

	c, calls := newTestCapturer(t, Config{SnapshotDir: t.TempDir(), MaxParallel: 1})
	c.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Capture(ctx, "https://shop.example.com/p/1", time.Minute)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, crawler.KindTimeout, crawler.KindOf(err))
	require.Zero(t, *calls)
}

func TestCaptureTimeoutStartsAfterSlotIsGranted(t *testing.T) {
	t.Parallel()

	c, _ := newTestCapturer(t, Config{SnapshotDir: t.TempDir(), MaxParallel: 1})
	calls := 0
	c.allocate = func(ctx context.Context) (context.Context, context.CancelFunc) {
		calls++
		dead, cancel := context.WithCancel(ctx)
		cancel()
		return dead, cancel
	}
	c.sem <- struct{}{}
	go func() {
		time.Sleep(60 * time.Millisecond)
		<-c.sem
	}()

	// The queue wait outlasts the capture timeout, yet the browser still starts.
	_, _ = c.Capture(context.Background(), "https://shop.example.com/p/1", 20*time.Millisecond)
	require.Equal(t, 1, calls)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)
	_, err = New(Config{SettleMin: 2 * time.Second, SettleMax: time.Second}, nil)
	require.Error(t, err)

	c, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, cap(c.sem))
	require.Equal(t, 30*time.Second, c.cfg.PageLoadTimeout)
	require.Equal(t, 10*time.Second, c.cfg.BodyWaitTimeout)
	require.Equal(t, EngineChromium, c.Engine())
}

func TestResolveEngine(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	require.Equal(t, EngineChromium, ResolveEngine("", "", logger))
	require.Equal(t, EngineChromium, ResolveEngine("Chrome", "", logger))
	require.Equal(t, EngineRemote, ResolveEngine("remote", "ws://127.0.0.1:9222", logger))
	require.Zero(t, logs.Len())

	require.Equal(t, EngineChromium, ResolveEngine("firefox", "", logger))
	require.Equal(t, EngineChromium, ResolveEngine("remote", "", logger))
	require.Equal(t, 2, logs.Len())
	require.Equal(t, "firefox", logs.All()[0].ContextMap()["engine"])
}

func TestExecOptionsIncludeUserAgent(t *testing.T) {
	t.Parallel()

	base := execOptions("")
	withUA := execOptions("sentinel-test")
	require.NotEmpty(t, base)
	require.Len(t, withUA, len(base)+1)
}

func TestSnapshotName(t *testing.T) {
	t.Parallel()

	at := time.Unix(1_700_000_000, 42)
	require.Equal(t, "shop.example.com_1700000000000000042.png", SnapshotName("Shop.Example.com", at))
	require.Equal(t, "localhost_8080_1700000000000000042.png", SnapshotName("localhost:8080", at))
	require.NotEqual(t, SnapshotName("a.com", at), SnapshotName("a.com", at.Add(time.Nanosecond)))
}

func TestSettleDelayWithinBounds(t *testing.T) {
	t.Parallel()

	c := &Capturer{cfg: Config{SettleMin: time.Second, SettleMax: 3 * time.Second}}
	for range 50 {
		d := c.settleDelay()
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 3*time.Second)
	}
	c.cfg.SettleMax = time.Second
	require.Equal(t, time.Second, c.settleDelay())
}

func TestStageErrorClassification(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	tests := []struct {
		name     string
		err      error
		stageCtx context.Context
		want     crawler.Kind
		sentinel error
	}{
		{"deadline error", context.DeadlineExceeded, context.Background(), crawler.KindTimeout, ErrTimeout},
		{"expired stage", errors.New("websocket closed"), expired, crawler.KindTimeout, ErrTimeout},
		{"driver", errors.New("chrome exited"), context.Background(), crawler.KindTransientConnectivity, ErrDriverFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := classify("op", "", stageError("navigate", tc.err, tc.stageCtx))
			require.ErrorIs(t, err, tc.sentinel)
			require.Equal(t, tc.want, crawler.KindOf(err))
		})
	}

	err := classify("op", "", stageError("navigate", context.Canceled, context.Background()))
	require.Equal(t, crawler.KindUnknown, crawler.KindOf(err))
}

func TestToGrayscale(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := ToGrayscale(buf.Bytes())
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, ok := decoded.(*image.Gray)
	require.True(t, ok, "expected *image.Gray, got %T", decoded)
	require.Equal(t, img.Bounds(), decoded.Bounds())

	_, err = ToGrayscale([]byte("not a png"))
	require.Error(t, err)
}

func TestSleepCtxHonorsCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepCtx(context.Background(), 0))
}
