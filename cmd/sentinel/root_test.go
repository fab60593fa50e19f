package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/api"
	"github.com/JakeFAU/price-sentinel/internal/config"
	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/reminder"
)

type fakeApp struct {
	targets []crawler.Target
	size    int
	closed  int
	fail    bool
	report  reminder.Report
}

func (f *fakeApp) Run(context.Context) error { return nil }
func (f *fakeApp) Close(context.Context) error { f.closed++; return nil }
func (f *fakeApp) Crawler() api.Crawler { return f }
func (f *fakeApp) Checker() api.ReminderChecker { return f }
func (f *fakeApp) CheckReminders(context.Context) (reminder.Report, error) { return f.report, nil }

func (f *fakeApp) outcome(t crawler.Target) crawler.Outcome {
	if f.fail {
		return crawler.Outcome{URL: t.URL, Err: crawler.E(crawler.KindTimeout, "capture", errors.New("slow"))}
	}
	return crawler.Outcome{URL: t.URL, Class: t.Class, Success: true, ProductID: 1}
}

func (f *fakeApp) RunCrawl(_ context.Context, t crawler.Target) crawler.Outcome {
	f.targets = append(f.targets, t)
	return f.outcome(t)
}

func (f *fakeApp) Batch(_ context.Context, targets []crawler.Target, size int) []crawler.Outcome {
	f.targets = append(f.targets, targets...)
	f.size = size
	out := make([]crawler.Outcome, 0, len(targets))
	for _, t := range targets {
		out = append(out, f.outcome(t))
	}
	return out
}

func (f *fakeApp) CrawlProduct(_ context.Context, id int64) ([]crawler.Outcome, error) {
	return []crawler.Outcome{f.outcome(crawler.Target{URL: "https://rival.vn", ProductID: id})}, nil
}

func (f *fakeApp) CrawlEdge(_ context.Context, id int64) (crawler.Outcome, error) {
	return f.outcome(crawler.Target{URL: "https://rival.vn", CrawlID: id}), nil
}

func (f *fakeApp) CrawlAll(context.Context) ([]crawler.Outcome, error) {
	return nil, nil
}

func (f *fakeApp) AddCompetitor(_ context.Context, id int64, url string) (crawler.Outcome, error) {
	return f.outcome(crawler.Target{URL: url, ProductID: id}), nil
}

// useFakeApp swaps the app factory; tests using it must not run in parallel.
func useFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	t.Setenv("SENTINEL_DATABASE_URL", "postgres://test/sentinel")
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommand(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)

	out, err := execute(t, "crawl", "https://shop.vn/p/1", "--class", "own", "--sku", "SKU-9")
	require.NoError(t, err)
	require.Contains(t, out, `"success": true`)
	require.Len(t, app.targets, 1)
	require.Equal(t, crawler.ClassOwn, app.targets[0].Class)
	require.Equal(t, "SKU-9", app.targets[0].SKU)
	require.Equal(t, 1, app.closed)
}

func TestCrawlCommandFailureStillCloses(t *testing.T) {
	app := &fakeApp{fail: true}
	useFakeApp(t, app)

	out, err := execute(t, "crawl", "https://shop.vn/p/1")
	require.Error(t, err)
	require.True(t, crawler.IsKind(err, crawler.KindTimeout))
	require.Contains(t, out, `"kind": "timeout"`)
	require.Equal(t, 1, app.closed)
}

func TestCrawlCommandRejectsBadClass(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := execute(t, "crawl", "https://shop.vn/p/1", "--class", "friend")
	require.Error(t, err)
}

func TestBatchCommandReadsFile(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)

	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# rivals\nhttps://b.vn\n\nhttps://c.vn\n"), 0o600))

	_, err := execute(t, "batch", "https://a.vn", "--file", path, "--size", "2")
	require.NoError(t, err)
	require.Equal(t, 2, app.size)
	require.Len(t, app.targets, 3)
	require.Equal(t, "https://a.vn", app.targets[0].URL)
	require.Equal(t, "https://c.vn", app.targets[2].URL)
}

func TestBatchCommandReportsFailures(t *testing.T) {
	useFakeApp(t, &fakeApp{fail: true})

	_, err := execute(t, "batch", "https://a.vn", "https://b.vn")
	require.EqualError(t, err, "2 of 2 crawls failed")
}

func TestBatchCommandNeedsURLs(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := execute(t, "batch")
	require.Error(t, err)
}

func TestRecrawlCommand(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := execute(t, "recrawl")
	require.Error(t, err)

	out, err := execute(t, "recrawl", "--crawl", "5")
	require.NoError(t, err)
	require.Contains(t, out, "rival.vn")

	_, err = execute(t, "recrawl", "--crawl", "5", "--all")
	require.Error(t, err)
}

func TestRemindCommand(t *testing.T) {
	useFakeApp(t, &fakeApp{report: reminder.Report{Subscriptions: 3, Sent: 2, Failed: 1}})

	out, err := execute(t, "remind")
	require.NoError(t, err)
	require.JSONEq(t, `{"subscriptions":3,"sent":2,"failed":1}`, out)
}

func TestConfigErrorsStopBeforeBuild(t *testing.T) {
	built := false
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { built = true; return nil, nil }
	t.Cleanup(func() { newApp = prev })
	t.Setenv("SENTINEL_DATABASE_URL", "")

	_, err := execute(t, "remind")
	require.Error(t, err)
	require.False(t, built)
}
