package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/extract"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// persistCompetitor stores records under a crawl edge. The enemy is upserted
// by domain first. An edge id on the target is reused; otherwise a new product
// and edge are created for this crawl.
func (o *Orchestrator) persistCompetitor(ctx context.Context, target crawler.Target, records []crawler.ProductRecord, out *crawler.Outcome) error {
	enemyID, err := o.saveEnemy(ctx, target)
	if err != nil {
		return err
	}
	out.EnemyID = enemyID

	if target.CrawlID != 0 {
		edge, err := o.deps.Store.GetProductCrawl(ctx, target.CrawlID)
		if err != nil {
			return fmt.Errorf("load crawl %d: %w", target.CrawlID, err)
		}
		out.ProductID, out.EnemyID, out.CrawlID = edge.ProductID, edge.EnemyID, edge.ID
	} else {
		productID := target.ProductID
		if productID == 0 {
			product := productFromRecord(records[0], target.URL)
			// A competitor listing is always a new product row.
			product.SKU = ""
			if productID, err = o.deps.Store.SaveProduct(ctx, product); err != nil {
				return fmt.Errorf("save competitor product: %w", err)
			}
		}
		out.ProductID = productID

		crawlID, err := o.deps.Store.SaveProductCrawl(ctx, productID, enemyID, target.URL)
		if err != nil {
			return fmt.Errorf("save crawl edge: %w", err)
		}
		out.CrawlID = crawlID
	}

	ids, err := o.deps.Store.SaveProductCrawlLog(ctx, out.CrawlID, records)
	if err != nil {
		return fmt.Errorf("save crawl logs: %w", err)
	}
	out.LogIDs = ids
	return nil
}

func (o *Orchestrator) saveEnemy(ctx context.Context, target crawler.Target) (int64, error) {
	domain := target.CompetitorDomain
	if domain == "" {
		var err error
		if domain, err = crawler.CanonicalDomain(target.URL); err != nil {
			return 0, err
		}
	}
	name := target.CompetitorName
	if name == "" {
		name = crawler.EnemyName(domain)
	}
	id, err := o.deps.Store.SaveEnemy(ctx, name, domain)
	if err != nil {
		return 0, fmt.Errorf("save enemy %s: %w", domain, err)
	}
	return id, nil
}

// persistOwn upserts one catalog product per named record.
func (o *Orchestrator) persistOwn(ctx context.Context, target crawler.Target, records []crawler.ProductRecord, out *crawler.Outcome) error {
	const op = "orchestrator.persistOwn"
	for _, rec := range records {
		product := productFromRecord(rec, target.URL)
		if target.ProductName != "" && (product.Name == "" || product.Name == extract.UnknownProduct) {
			product.Name = target.ProductName
		}
		if product.Name == "" {
			continue
		}
		if target.SKU != "" {
			product.SKU = target.SKU
		}
		id, err := o.deps.Store.SaveProduct(ctx, product)
		if err != nil {
			return fmt.Errorf("save product %q: %w", product.Name, err)
		}
		if out.ProductID == 0 {
			out.ProductID = id
		}
	}
	if out.ProductID == 0 {
		return crawler.E(crawler.KindInvalidInput, op, errors.New("no named product in extraction"))
	}
	return nil
}

// productFromRecord maps a record to a product. The original price is the
// listed price and the current price is the promotion when there is one.
func productFromRecord(rec crawler.ProductRecord, link string) store.Product {
	org, cur := PricePair(rec)
	return store.Product{
		Name:     rec.Name(),
		SKU:      rec.Text("sku"),
		Link:     link,
		OrgPrice: org,
		CurPrice: cur,
	}
}

// PricePair returns (original, current) prices for a record.
func PricePair(rec crawler.ProductRecord) (*float64, *float64) {
	current, hasCurrent := rec.Number(crawler.FieldCurrentPrice)
	promo, hasPromo := rec.Number(crawler.FieldPromotionalPrice)
	if !hasCurrent {
		if hasPromo && promo != 0 {
			return nil, &promo
		}
		return nil, nil
	}
	if hasPromo && promo != 0 {
		return &current, &promo
	}
	cur := current
	return &current, &cur
}
