package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

const crawlSelect = `
SELECT pc.id, pc.prod_id, pc.enemy_id, pc.link, e.name, e.domain, p.name, pc.created_at, pc.updated_at
FROM product_crawls pc
JOIN enemies e ON e.id = pc.enemy_id
JOIN products p ON p.id = pc.prod_id`

func scanCrawl(row pgx.Row) (store.ProductCrawl, error) {
	var c store.ProductCrawl
	err := row.Scan(&c.ID, &c.ProductID, &c.EnemyID, &c.Link, &c.EnemyName, &c.EnemyDomain, &c.ProductName,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// SaveProductCrawl inserts a new edge between a product and a competitor URL.
// Repeated calls with the same triple create separate edges.
func (s *Store) SaveProductCrawl(ctx context.Context, productID, enemyID int64, link string) (int64, error) {
	const op = "postgres.SaveProductCrawl"
	if productID <= 0 || enemyID <= 0 || strings.TrimSpace(link) == "" {
		return 0, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("product id, enemy id and link are required"))
	}
	var id int64
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		return db.QueryRow(ctx, `
INSERT INTO product_crawls (prod_id, enemy_id, link)
VALUES ($1, $2, $3)
RETURNING id`, productID, enemyID, link).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetProductCrawl loads one edge with its product and competitor names.
func (s *Store) GetProductCrawl(ctx context.Context, id int64) (store.ProductCrawl, error) {
	var out store.ProductCrawl
	err := s.run(ctx, "postgres.GetProductCrawl", func(ctx context.Context, db DB) error {
		var err error
		out, err = scanCrawl(db.QueryRow(ctx, crawlSelect+` WHERE pc.id = $1`, id))
		return err
	})
	return out, err
}

// ListProductCrawls returns the edges of one product ordered by competitor name.
func (s *Store) ListProductCrawls(ctx context.Context, productID int64) ([]store.ProductCrawl, error) {
	var out []store.ProductCrawl
	err := s.run(ctx, "postgres.ListProductCrawls", func(ctx context.Context, db DB) error {
		var err error
		out, err = queryCrawls(ctx, db, crawlSelect+` WHERE pc.prod_id = $1 ORDER BY e.name, pc.id`, productID)
		return err
	})
	return out, err
}

// ListAllProductCrawls returns every edge, used by scheduled re-crawls.
func (s *Store) ListAllProductCrawls(ctx context.Context) ([]store.ProductCrawl, error) {
	var out []store.ProductCrawl
	err := s.run(ctx, "postgres.ListAllProductCrawls", func(ctx context.Context, db DB) error {
		var err error
		out, err = queryCrawls(ctx, db, crawlSelect+` ORDER BY pc.id`)
		return err
	})
	return out, err
}

// DeleteProductCrawl removes an edge and its logs.
func (s *Store) DeleteProductCrawl(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "postgres.DeleteProductCrawl", `DELETE FROM product_crawls WHERE id = $1`, id)
}

func queryCrawls(ctx context.Context, db DB, query string, args ...any) ([]store.ProductCrawl, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.ProductCrawl{}
	for rows.Next() {
		c, err := scanCrawl(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product crawl: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
