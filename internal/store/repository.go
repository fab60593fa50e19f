package store

import (
	"context"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

// PipelineStore is what the crawl orchestrator writes through.
type PipelineStore interface {
	// SaveProduct inserts p, or updates the row sharing its SKU, and returns the id.
	SaveProduct(ctx context.Context, p Product) (int64, error)
	// SaveEnemy upserts by exact domain and returns the row id.
	SaveEnemy(ctx context.Context, name, domain string) (int64, error)
	// SaveProductCrawl always inserts a new edge.
	SaveProductCrawl(ctx context.Context, productID, enemyID int64, link string) (int64, error)
	// SaveProductCrawlLog appends one log per named record and returns their ids.
	SaveProductCrawlLog(ctx context.Context, crawlID int64, records []crawler.ProductRecord) ([]int64, error)
	// FindEnemyByDomain matches exactly first, then by substring.
	FindEnemyByDomain(ctx context.Context, domain string) (Enemy, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductCrawl(ctx context.Context, id int64) (ProductCrawl, error)
	ListProductCrawls(ctx context.Context, productID int64) ([]ProductCrawl, error)
	ListAllProductCrawls(ctx context.Context) ([]ProductCrawl, error)
}

// CatalogStore serves product, enemy and log queries.
type CatalogStore interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context, page Page) ([]Product, int64, error)
	SearchProducts(ctx context.Context, query string) ([]Product, error)
	GetProductByLink(ctx context.Context, link string) (Product, error)
	ProductWithCompetitors(ctx context.Context, id int64) (ProductWithCompetitors, error)
	PriceHistory(ctx context.Context, productID int64) ([]PriceHistory, error)

	ListEnemies(ctx context.Context) ([]Enemy, error)
	GetEnemy(ctx context.Context, id int64) (Enemy, error)
	DeleteEnemy(ctx context.Context, id int64) error

	DeleteProductCrawl(ctx context.Context, id int64) error
	ListCrawlLogs(ctx context.Context, crawlID int64, page Page) ([]CrawlLog, error)
	LatestCrawlLog(ctx context.Context, crawlID int64) (*CrawlLog, error)

	Stats(ctx context.Context, top int) (Stats, error)
}

// SubscriptionStore manages undercut alert subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, productID int64, email string) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	ListSubscriptionsByProduct(ctx context.Context, productID int64) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
}
