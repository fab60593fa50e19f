package store

import (
	"errors"
	"time"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Product is an owned catalog item.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	Link      string    `json:"link"`
	OrgPrice  *float64  `json:"org_price"`
	CurPrice  *float64  `json:"cur_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enemy is a competitor site, unique by domain.
type Enemy struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductCrawl links a product to one competitor URL.
type ProductCrawl struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"prod_id"`
	EnemyID     int64     `json:"enemy_id"`
	Link        string    `json:"link"`
	EnemyName   string    `json:"enemy_name,omitempty"`
	EnemyDomain string    `json:"enemy_domain,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CrawlLog is one immutable observation of a crawl edge. Price is nil when no
// price could be read from the snapshot.
type CrawlLog struct {
	ID             int64              `json:"id"`
	ProductCrawlID int64              `json:"product_crawl_id"`
	Name           string             `json:"name"`
	Price          *float64           `json:"price"`
	Timestamp      time.Time          `json:"timestamp"`
	OtherData      crawler.Attributes `json:"other_data"`
}

// Subscription asks for undercut alerts on a product.
type Subscription struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CompetitorView is a crawl edge with its latest observation.
type CompetitorView struct {
	Crawl     ProductCrawl `json:"crawl"`
	LatestLog *CrawlLog    `json:"latest_log"`
}

// ProductWithCompetitors groups a product with every competitor edge.
type ProductWithCompetitors struct {
	Product     Product          `json:"product"`
	Competitors []CompetitorView `json:"competitors"`
}

// PriceHistory holds one competitor's logs for a product, newest first.
type PriceHistory struct {
	EnemyName string        `json:"enemy_name"`
	Logs      []CrawlLog    `json:"logs"`
	Trend     crawler.Trend `json:"trend"`
}

// RankedName pairs a label with a count for dashboard rankings.
type RankedName struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// RecentLog is a log joined with its product and website names.
type RecentLog struct {
	CrawlLog
	WebsiteName string `json:"website_name"`
}

// Stats summarizes the tracker for the dashboard.
type Stats struct {
	Products    int64        `json:"products"`
	Enemies     int64        `json:"enemies"`
	Crawls      int64        `json:"crawls"`
	Logs        int64        `json:"logs"`
	TopProducts []RankedName `json:"top_products"`
	TopWebsites []RankedName `json:"top_websites"`
	LatestLogs  []RecentLog  `json:"latest_logs"`
}

// Page selects a window of a list query.
type Page struct {
	Limit  int
	Offset int
}

// Default pagination bounds.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// NewPage converts 1-based page numbers into a Page, clamping bad input.
func NewPage(page, perPage int) Page {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Page{Limit: perPage, Offset: (page - 1) * perPage}
}
