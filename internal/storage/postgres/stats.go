package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// Stats gathers the dashboard summary. top bounds each ranking and the
// latest-log list.
func (s *Store) Stats(ctx context.Context, top int) (store.Stats, error) {
	if top <= 0 {
		top = 5
	}
	var out store.Stats
	err := s.run(ctx, "postgres.Stats", func(ctx context.Context, db DB) error {
		if err := db.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM products),
	(SELECT count(*) FROM enemies),
	(SELECT count(*) FROM product_crawls),
	(SELECT count(*) FROM product_crawl_logs)`).Scan(&out.Products, &out.Enemies, &out.Crawls, &out.Logs); err != nil {
			return fmt.Errorf("count rows: %w", err)
		}

		var err error
		if out.TopProducts, err = queryRanked(ctx, db, `
SELECT p.id, p.name, count(DISTINCT pc.enemy_id) AS competitors
FROM products p
JOIN product_crawls pc ON pc.prod_id = p.id
GROUP BY p.id, p.name
ORDER BY competitors DESC, p.name
LIMIT $1`, top); err != nil {
			return err
		}
		if out.TopWebsites, err = queryRanked(ctx, db, `
SELECT e.id, e.name, count(DISTINCT pc.prod_id) AS products
FROM enemies e
JOIN product_crawls pc ON pc.enemy_id = e.id
GROUP BY e.id, e.name
ORDER BY products DESC, e.name
LIMIT $1`, top); err != nil {
			return err
		}

		rows, err := db.Query(ctx, `
SELECT l.id, l.product_crawl_id, l.name, l.price, l."timestamp", l.other_data, e.name
FROM product_crawl_logs l
JOIN product_crawls pc ON pc.id = l.product_crawl_id
JOIN enemies e ON e.id = pc.enemy_id
ORDER BY l."timestamp" DESC, l.id DESC
LIMIT $1`, top)
		if err != nil {
			return err
		}
		defer rows.Close()
		out.LatestLogs = []store.RecentLog{}
		for rows.Next() {
			var (
				r     store.RecentLog
				other []byte
			)
			if err := rows.Scan(&r.ID, &r.ProductCrawlID, &r.Name, &r.Price, &r.Timestamp, &other, &r.WebsiteName); err != nil {
				return fmt.Errorf("scan latest log: %w", err)
			}
			if r.OtherData, err = crawler.UnmarshalAttributes(other); err != nil {
				return err
			}
			out.LatestLogs = append(out.LatestLogs, r)
		}
		return rows.Err()
	})
	return out, err
}

func queryRanked(ctx context.Context, db DB, query string, limit int) ([]store.RankedName, error) {
	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.RankedName{}
	for rows.Next() {
		var r store.RankedName
		if err := rows.Scan(&r.ID, &r.Name, &r.Count); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
