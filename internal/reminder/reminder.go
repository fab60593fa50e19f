// Package reminder compares each subscribed product's price with the latest
// competitor observations and sends an alert when a competitor is cheaper.
package reminder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/notify"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "Price Alert - Enemy Product Price Drop!"

// Store is the read side the checker needs.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]store.Subscription, error)
	GetProduct(ctx context.Context, id int64) (store.Product, error)
	ListProductCrawls(ctx context.Context, productID int64) ([]store.ProductCrawl, error)
	LatestCrawlLog(ctx context.Context, crawlID int64) (*store.CrawlLog, error)
}

// Report summarizes one check.
type Report struct {
	Subscriptions int `json:"subscriptions"`
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
}

// Checker finds undercuts and hands them to a notifier.
type Checker struct {
	store    Store
	notifier notify.Notifier
	subject  string
	logger   *zap.Logger
}

// NewChecker builds a Checker.
func NewChecker(s Store, n notify.Notifier, subject string, logger *zap.Logger) *Checker {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Checker{store: s, notifier: n, subject: subject, logger: logging.Component(logger, "reminder")}
}

// undercut is one competitor edge whose latest price is below the product's.
type undercut struct {
	product store.Product
	edge    store.ProductCrawl
	log     store.CrawlLog
}

// CheckReminders alerts every subscriber whose product is undercut by the
// latest log of any of its competitor edges. Notifier failures are counted and
// logged. Only a failure to list subscriptions aborts the check.
func (c *Checker) CheckReminders(ctx context.Context) (Report, error) {
	subs, err := c.store.ListSubscriptions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list subscriptions: %w", err)
	}
	report := Report{Subscriptions: len(subs)}
	cache := make(map[int64][]undercut)

	for _, sub := range subs {
		logger := c.logger.With(zap.Int64("product_id", sub.ProductID), zap.String("to", sub.Email))
		found, ok := cache[sub.ProductID]
		if !ok {
			found, err = c.undercuts(ctx, sub.ProductID)
			if err != nil {
				logger.Warn("skip subscription", zap.Error(err))
				continue
			}
			cache[sub.ProductID] = found
		}

		for _, u := range found {
			alert := c.alert(sub.Email, u)
			if err := c.notifier.Notify(ctx, alert); err != nil {
				report.Failed++
				logger.Error("send alert", zap.String("enemy", alert.EnemyName), zap.Error(err))
				continue
			}
			report.Sent++
		}
	}
	c.logger.Info("reminder check finished",
		zap.Int("subscriptions", report.Subscriptions),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (c *Checker) undercuts(ctx context.Context, productID int64) ([]undercut, error) {
	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product.CurPrice == nil || *product.CurPrice <= 0 {
		return nil, nil
	}
	edges, err := c.store.ListProductCrawls(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}

	var out []undercut
	for _, edge := range edges {
		latest, err := c.store.LatestCrawlLog(ctx, edge.ID)
		if err != nil {
			return nil, fmt.Errorf("latest log of crawl %d: %w", edge.ID, err)
		}
		if latest == nil || latest.Price == nil || *latest.Price <= 0 {
			continue
		}
		if *latest.Price < *product.CurPrice {
			out = append(out, undercut{product: product, edge: edge, log: *latest})
		}
	}
	return out, nil
}

func (c *Checker) alert(to string, u undercut) notify.Alert {
	enemy := u.edge.EnemyName
	if enemy == "" {
		enemy = u.log.Name
	}
	return notify.Alert{
		To:            to,
		Subject:       c.subject,
		Body:          notify.FormatBody(u.product.Name, enemy, *u.log.Price, *u.product.CurPrice),
		ProductName:   u.product.Name,
		EnemyName:     enemy,
		EnemyPrice:    *u.log.Price,
		OriginalPrice: *u.product.CurPrice,
	}
}
