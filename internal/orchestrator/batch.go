package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// Batch crawls targets in consecutive groups of size. Crawls inside a group
// run concurrently and the next group starts only after the whole group has
// finished. Every target gets its own Outcome, in input order. A size of zero
// or less uses the configured batch size.
func (o *Orchestrator) Batch(ctx context.Context, targets []crawler.Target, size int) []crawler.Outcome {
	if size <= 0 {
		size = o.cfg.BatchSize
	}
	outcomes := make([]crawler.Outcome, len(targets))
	for groupIdx, bounds := range Partition(len(targets), size) {
		lo, hi := bounds[0], bounds[1]
		o.logger.Info("starting batch group",
			zap.Int("group", groupIdx+1),
			zap.Int("size", hi-lo),
		)

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					outcomes[i] = crawler.Outcome{
						URL:   targets[i].URL,
						Class: targets[i].Class,
						Err:   crawler.E(crawler.KindTimeout, "orchestrator.Batch", fmt.Errorf("batch canceled: %w", err)),
					}
					return nil
				}
				outcomes[i] = o.RunCrawl(ctx, targets[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

// Partition splits n items into consecutive [lo, hi) ranges of at most size.
func Partition(n, size int) [][2]int {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	groups := make([][2]int, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		groups = append(groups, [2]int{lo, min(lo+size, n)})
	}
	return groups
}

// CrawlProduct re-crawls every competitor edge of a product.
func (o *Orchestrator) CrawlProduct(ctx context.Context, productID int64) ([]crawler.Outcome, error) {
	edges, err := o.deps.Store.ListProductCrawls(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list crawls of product %d: %w", productID, err)
	}
	return o.Batch(ctx, edgeTargets(edges), 0), nil
}

// CrawlEdge re-crawls one competitor edge.
func (o *Orchestrator) CrawlEdge(ctx context.Context, crawlID int64) (crawler.Outcome, error) {
	edge, err := o.deps.Store.GetProductCrawl(ctx, crawlID)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("load crawl %d: %w", crawlID, err)
	}
	return o.RunCrawl(ctx, edgeTargets([]store.ProductCrawl{edge})[0]), nil
}

// CrawlAll re-crawls every edge in the store. The scheduler calls it.
func (o *Orchestrator) CrawlAll(ctx context.Context) ([]crawler.Outcome, error) {
	edges, err := o.deps.Store.ListAllProductCrawls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}
	return o.Batch(ctx, edgeTargets(edges), 0), nil
}

// AddCompetitor tracks url as a competitor listing of an existing product and
// crawls it once.
func (o *Orchestrator) AddCompetitor(ctx context.Context, productID int64, url string) (crawler.Outcome, error) {
	if _, err := o.deps.Store.GetProduct(ctx, productID); err != nil {
		return crawler.Outcome{}, fmt.Errorf("load product %d: %w", productID, err)
	}
	return o.RunCrawl(ctx, crawler.Target{URL: url, Class: crawler.ClassCompetitor, ProductID: productID}), nil
}

func edgeTargets(edges []store.ProductCrawl) []crawler.Target {
	targets := make([]crawler.Target, 0, len(edges))
	for _, edge := range edges {
		targets = append(targets, crawler.Target{
			URL:              edge.Link,
			Class:            crawler.ClassCompetitor,
			CrawlID:          edge.ID,
			ProductID:        edge.ProductID,
			CompetitorName:   edge.EnemyName,
			CompetitorDomain: edge.EnemyDomain,
		})
	}
	return targets
}
