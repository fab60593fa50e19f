package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/capture"
	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/probe"
	"github.com/JakeFAU/price-sentinel/internal/storage/memory"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

type fakeCapturer struct {
	dir   string
	delay time.Duration
	fail  map[string]error

	mu        sync.Mutex
	active    int
	maxActive int
	events    []string
	paths     []string
}

func (f *fakeCapturer) Capture(ctx context.Context, url string, _ time.Duration) (string, error) {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.events = append(f.events, "start "+url)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.events = append(f.events, "end "+url)
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.fail[url]; err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("snap_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte("\x89PNG fake"), 0o600); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return path, nil
}

type fakeExtractor struct {
	records func(url string) []crawler.ProductRecord
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, _, _, sourceURL string) ([]crawler.ProductRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	recs := f.records(sourceURL)
	for _, r := range recs {
		r[crawler.FieldLink] = sourceURL
	}
	return recs, nil
}

type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]store.Product
	enemies  map[string]int64
	crawls   map[int64]store.ProductCrawl
	logs     map[int64][]crawler.ProductRecord
	failLogs error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[int64]store.Product{},
		enemies:  map[string]int64{},
		crawls:   map[int64]store.ProductCrawl{},
		logs:     map[int64][]crawler.ProductRecord{},
	}
}

func (s *fakeStore) id() int64 { s.nextID++; return s.nextID }

func (s *fakeStore) SaveProduct(_ context.Context, p store.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.SKU != "" {
		for id, existing := range s.products {
			if existing.SKU == p.SKU {
				p.ID = id
				s.products[id] = p
				return id, nil
			}
		}
	}
	p.ID = s.id()
	s.products[p.ID] = p
	return p.ID, nil
}

func (s *fakeStore) SaveEnemy(_ context.Context, _, domain string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.enemies[domain]; ok {
		return id, nil
	}
	id := s.id()
	s.enemies[domain] = id
	return id, nil
}

func (s *fakeStore) SaveProductCrawl(_ context.Context, productID, enemyID int64, link string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.crawls[id] = store.ProductCrawl{ID: id, ProductID: productID, EnemyID: enemyID, Link: link}
	return id, nil
}

func (s *fakeStore) SaveProductCrawlLog(_ context.Context, crawlID int64, records []crawler.ProductRecord) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLogs != nil {
		return nil, s.failLogs
	}
	if _, ok := s.crawls[crawlID]; !ok {
		return nil, crawler.E(crawler.KindIntegrityViolation, "fake", errors.New("missing parent edge"))
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		s.logs[crawlID] = append(s.logs[crawlID], r)
		ids = append(ids, s.id())
	}
	return ids, nil
}

func (s *fakeStore) FindEnemyByDomain(context.Context, string) (store.Enemy, error) {
	return store.Enemy{}, store.ErrNotFound
}

func (s *fakeStore) GetProduct(_ context.Context, id int64) (store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return store.Product{}, crawler.E(crawler.KindNotFound, "fake", store.ErrNotFound)
	}
	return p, nil
}

func (s *fakeStore) GetProductCrawl(_ context.Context, id int64) (store.ProductCrawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[id]
	if !ok {
		return store.ProductCrawl{}, crawler.E(crawler.KindNotFound, "fake", store.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) ListProductCrawls(_ context.Context, productID int64) ([]store.ProductCrawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ProductCrawl
	for _, c := range s.crawls {
		if c.ProductID == productID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAllProductCrawls(context.Context) ([]store.ProductCrawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ProductCrawl, 0, len(s.crawls))
	for _, c := range s.crawls {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		n += len(l)
	}
	return n
}

type fakeProber struct{ err error }

func (f fakeProber) Probe(context.Context, string) (probe.Result, error) {
	return probe.Result{StatusCode: 200}, f.err
}

func phoneRecords(string) []crawler.ProductRecord {
	return []crawler.ProductRecord{{
		crawler.FieldProductName:      "Galaxy S24",
		crawler.FieldCurrentPrice:     16490000.0,
		crawler.FieldPromotionalPrice: 15990000.0,
	}}
}

type harness struct {
	orch     *Orchestrator
	capturer *fakeCapturer
	store    *fakeStore
	archive  *memory.Archive
}

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) harness {
	t.Helper()
	h := harness{
		capturer: &fakeCapturer{dir: t.TempDir()},
		store:    newFakeStore(),
		archive:  memory.New(),
	}
	deps := Deps{
		Capturer:  h.capturer,
		Extractor: &fakeExtractor{records: phoneRecords},
		Store:     h.store,
		Archive:   h.archive,
	}
	if mutate != nil {
		mutate(&deps)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "read"
	}
	orch, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
}

func TestRunCrawlCompetitorCreatesEnemyProductEdgeAndLog(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://www.cellphones.com.vn/s24", Class: crawler.ClassCompetitor})
	require.True(t, out.Success, out.ErrorText())
	require.NotZero(t, out.EnemyID)
	require.NotZero(t, out.ProductID)
	require.NotZero(t, out.CrawlID)
	require.Len(t, out.LogIDs, 1)

	require.Equal(t, out.EnemyID, h.store.enemies["cellphones.com.vn"])
	product := h.store.products[out.ProductID]
	require.Equal(t, "Galaxy S24", product.Name)
	require.Equal(t, "https://www.cellphones.com.vn/s24", product.Link)
	require.Equal(t, 16490000.0, *product.OrgPrice)
	require.Equal(t, 15990000.0, *product.CurPrice)

	logged := h.store.logs[out.CrawlID][0]
	uri, ok := logged[crawler.FieldSnapshotURI].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(uri, "mem://snapshots/"), uri)
	require.Len(t, h.archive.Keys(), 1)

	for _, p := range h.capturer.paths {
		_, err := os.Stat(p)
		require.ErrorIs(t, err, os.ErrNotExist, "snapshot should be deleted")
	}
}

func TestRunCrawlCompetitorDuplicatesEdges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	target := crawler.Target{URL: "https://shop.example.com/p", Class: crawler.ClassCompetitor}
	first := h.orch.RunCrawl(context.Background(), target)
	second := h.orch.RunCrawl(context.Background(), target)
	require.True(t, first.Success)
	require.True(t, second.Success)
	require.Equal(t, first.EnemyID, second.EnemyID)
	require.NotEqual(t, first.CrawlID, second.CrawlID)
}

func TestRunCrawlCompetitorNeverMergesIntoCatalogBySKU(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, func(d *Deps) {
		d.Extractor = &fakeExtractor{records: func(string) []crawler.ProductRecord {
			return []crawler.ProductRecord{{crawler.FieldProductName: "Rival S24", "sku": "GS24", crawler.FieldCurrentPrice: 1.0}}
		}}
	})
	ownID, err := h.store.SaveProduct(context.Background(), store.Product{Name: "Galaxy S24", SKU: "GS24"})
	require.NoError(t, err)

	out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://rival.vn/s24", Class: crawler.ClassCompetitor})
	require.True(t, out.Success, out.ErrorText())
	require.NotEqual(t, ownID, out.ProductID)
	require.Equal(t, "Galaxy S24", h.store.products[ownID].Name)
	require.Equal(t, "Rival S24", h.store.products[out.ProductID].Name)
}

func TestRunCrawlReusesSuppliedEdge(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{KeepSnapshots: true}, nil)
	edgeID, err := h.store.SaveProductCrawl(context.Background(), 7, 8, "https://shop.example.com/p")
	require.NoError(t, err)

	out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://shop.example.com/p", CrawlID: edgeID})
	require.True(t, out.Success, out.ErrorText())
	require.Equal(t, edgeID, out.CrawlID)
	require.Equal(t, int64(7), out.ProductID)
	require.Equal(t, int64(8), out.EnemyID)
	require.Empty(t, h.store.products)
	require.Contains(t, h.store.enemies, "shop.example.com")

	for _, p := range h.capturer.paths {
		_, err := os.Stat(p)
		require.NoError(t, err, "snapshot should be kept")
	}
}

func TestRunCrawlOwnUpsertsProduct(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, func(d *Deps) {
		d.Extractor = &fakeExtractor{records: func(string) []crawler.ProductRecord {
			return []crawler.ProductRecord{{crawler.FieldProductName: "Galaxy S24", crawler.FieldCurrentPrice: 16490000.0}}
		}}
	})
	target := crawler.Target{URL: "https://myshop.vn/s24", Class: crawler.ClassOwn, SKU: "GS24"}
	out := h.orch.RunCrawl(context.Background(), target)
	require.True(t, out.Success, out.ErrorText())

	product := h.store.products[out.ProductID]
	require.Equal(t, "GS24", product.SKU)
	require.Equal(t, 16490000.0, *product.OrgPrice)
	require.Equal(t, 16490000.0, *product.CurPrice)
	require.Empty(t, h.store.crawls)
	require.Zero(t, h.store.logCount())

	again := h.orch.RunCrawl(context.Background(), target)
	require.Equal(t, out.ProductID, again.ProductID)
	require.Len(t, h.store.products, 1)
}

func TestRunCrawlCaptureTimeoutLeavesNoLog(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	timeout := crawler.E(crawler.KindTimeout, "capture.Capture", capture.ErrTimeout)
	h.capturer.fail = map[string]error{"https://slow.example.com/p": timeout}

	out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://slow.example.com/p"})
	require.False(t, out.Success)
	require.Equal(t, crawler.KindTimeout, crawler.KindOf(out.Err))
	require.ErrorIs(t, out.Err, capture.ErrTimeout)
	require.Zero(t, h.store.logCount())
	require.Empty(t, h.store.crawls)
	require.Empty(t, h.store.enemies)
}

func TestRunCrawlStageFailuresShortCircuit(t *testing.T) {
	t.Parallel()

	t.Run("probe", func(t *testing.T) {
		t.Parallel()
		probeErr := crawler.E(crawler.KindInvalidInput, "probe.Probe", probe.ErrRobotsDisallowed)
		h := newHarness(t, Config{}, func(d *Deps) { d.Prober = fakeProber{err: probeErr} })
		out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://a.com/p"})
		require.ErrorIs(t, out.Err, probe.ErrRobotsDisallowed)
		require.Empty(t, h.capturer.events)
	})

	t.Run("extract", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, func(d *Deps) {
			d.Extractor = &fakeExtractor{err: crawler.E(crawler.KindConfigMissing, "extract", errors.New("no key"))}
		})
		out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://a.com/p"})
		require.Equal(t, crawler.KindConfigMissing, crawler.KindOf(out.Err))
		require.Empty(t, h.store.enemies)
		for _, p := range h.capturer.paths {
			_, err := os.Stat(p)
			require.ErrorIs(t, err, os.ErrNotExist)
		}
	})

	t.Run("persist", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, nil)
		h.store.failLogs = crawler.E(crawler.KindTransientConnectivity, "fake", errors.New("db gone"))
		out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://a.com/p"})
		require.Equal(t, crawler.KindTransientConnectivity, crawler.KindOf(out.Err))
	})

	t.Run("bad classification", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, nil)
		out := h.orch.RunCrawl(context.Background(), crawler.Target{URL: "https://a.com/p", Class: "partner"})
		require.Equal(t, crawler.KindInvalidInput, crawler.KindOf(out.Err))
	})
}

func TestBatchRunsFixedGroups(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.capturer.delay = 20 * time.Millisecond
	h.capturer.fail = map[string]error{
		"https://site2.example.com/p": crawler.E(crawler.KindTransientConnectivity, "capture", capture.ErrDriverFailure),
	}

	targets := make([]crawler.Target, 7)
	for i := range targets {
		targets[i] = crawler.Target{URL: fmt.Sprintf("https://site%d.example.com/p", i)}
	}
	outcomes := h.orch.Batch(context.Background(), targets, 3)
	require.Len(t, outcomes, 7)

	for i, out := range outcomes {
		assert.Equal(t, targets[i].URL, out.URL)
		if i == 2 {
			assert.False(t, out.Success)
			assert.ErrorIs(t, out.Err, capture.ErrDriverFailure)
			continue
		}
		assert.True(t, out.Success, out.ErrorText())
	}

	require.LessOrEqual(t, h.capturer.maxActive, 3)
	group := func(url string) int {
		var idx int
		_, err := fmt.Sscanf(url, "https://site%d.example.com/p", &idx)
		require.NoError(t, err)
		return idx / 3
	}
	// every event of group g precedes every event of group g+1
	lastGroup := 0
	for _, ev := range h.capturer.events {
		url := ev[strings.Index(ev, " ")+1:]
		g := group(url)
		require.GreaterOrEqual(t, g, lastGroup, "event %q ran before an earlier group finished", ev)
		lastGroup = g
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()

	require.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, Partition(7, 3))
	require.Equal(t, [][2]int{{0, 2}}, Partition(2, 5))
	require.Equal(t, [][2]int{{0, 4}}, Partition(4, 0))
	require.Nil(t, Partition(0, 3))
}

func TestCrawlProductAndEdge(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{BatchSize: 2}, nil)
	productID, err := h.store.SaveProduct(context.Background(), store.Product{Name: "Galaxy S24", SKU: "GS24"})
	require.NoError(t, err)
	for _, link := range []string{"https://a.com/p", "https://b.com/p", "https://c.com/p"} {
		_, err := h.store.SaveProductCrawl(context.Background(), productID, 99, link)
		require.NoError(t, err)
	}

	outcomes, err := h.orch.CrawlProduct(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		require.True(t, out.Success, out.ErrorText())
		require.Equal(t, productID, out.ProductID)
	}
	require.Equal(t, 3, h.store.logCount())
	require.Len(t, h.store.crawls, 3)

	edge := outcomes[0].CrawlID
	out, err := h.orch.CrawlEdge(context.Background(), edge)
	require.NoError(t, err)
	require.Equal(t, edge, out.CrawlID)

	_, err = h.orch.CrawlEdge(context.Background(), 12345)
	require.Equal(t, crawler.KindNotFound, crawler.KindOf(err))
}

func TestAddCompetitor(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	productID, err := h.store.SaveProduct(context.Background(), store.Product{Name: "Galaxy S24", SKU: "GS24"})
	require.NoError(t, err)

	out, err := h.orch.AddCompetitor(context.Background(), productID, "https://www.rival.vn/s24")
	require.NoError(t, err)
	require.True(t, out.Success, out.ErrorText())
	require.Equal(t, productID, out.ProductID)
	require.Len(t, h.store.products, 1)
	require.Equal(t, productID, h.store.crawls[out.CrawlID].ProductID)
	require.Contains(t, h.store.enemies, "rival.vn")

	_, err = h.orch.AddCompetitor(context.Background(), 999, "https://www.rival.vn/s24")
	require.Equal(t, crawler.KindNotFound, crawler.KindOf(err))
}

func TestPricePair(t *testing.T) {
	t.Parallel()

	org, cur := PricePair(crawler.ProductRecord{crawler.FieldCurrentPrice: 100.0, crawler.FieldPromotionalPrice: 80.0})
	require.Equal(t, 100.0, *org)
	require.Equal(t, 80.0, *cur)

	org, cur = PricePair(crawler.ProductRecord{crawler.FieldCurrentPrice: 100.0, crawler.FieldPromotionalPrice: 0.0})
	require.Equal(t, 100.0, *org)
	require.Equal(t, 100.0, *cur)

	org, cur = PricePair(crawler.ProductRecord{})
	require.Nil(t, org)
	require.Nil(t, cur)
}
