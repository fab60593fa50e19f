package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/price"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// priceFields lists the keys a log price is read from, in priority order.
var priceFields = []string{
	crawler.FieldCurrentPrice,
	crawler.FieldPromotionalPrice,
	"price",
	"sale_price",
	"giá",
	"giá bán",
}

// reservedLogFields never reach other_data.
var reservedLogFields = map[string]struct{}{
	crawler.FieldProductName:      {},
	crawler.FieldCurrentPrice:     {},
	crawler.FieldPromotionalPrice: {},
	crawler.FieldLink:             {},
	"price":                       {},
	"sale_price":                  {},
	"giá":                         {},
	"giá bán":                     {},
}

// LogPrice picks the first non-empty price candidate of rec and normalizes it.
// Empty means missing, blank text or a zero number.
func LogPrice(rec crawler.ProductRecord) *float64 {
	for _, key := range priceFields {
		raw, ok := rec[key]
		if !ok || isEmptyPrice(raw) {
			continue
		}
		return price.Normalize(raw)
	}
	return nil
}

func isEmptyPrice(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	default:
		return false
	}
}

// OtherData returns every non-reserved field of rec.
func OtherData(rec crawler.ProductRecord) crawler.Attributes {
	out := crawler.Attributes{}
	for k, v := range rec {
		if _, reserved := reservedLogFields[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}

// SaveProductCrawlLog appends one log row per named record under crawlID and
// refreshes the edge's updated_at. Records without a name are skipped. All
// rows are written in one transaction.
func (s *Store) SaveProductCrawlLog(ctx context.Context, crawlID int64, records []crawler.ProductRecord) ([]int64, error) {
	const op = "postgres.SaveProductCrawlLog"
	if crawlID <= 0 {
		return nil, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("crawl id is required"))
	}

	type row struct {
		name  string
		price *float64
		other []byte
	}
	rows := make([]row, 0, len(records))
	for i, rec := range records {
		name := rec.Name()
		if name == "" {
			s.logger.Info("skipping crawl log without product name", zap.Int64("crawl_id", crawlID), zap.Int("index", i))
			continue
		}
		other, err := OtherData(rec).Marshal()
		if err != nil {
			return nil, crawler.E(crawler.KindInvalidInput, op, err)
		}
		rows = append(rows, row{name: name, price: LogPrice(rec), other: other})
	}
	if len(rows) == 0 {
		return []int64{}, nil
	}

	var ids []int64
	err := s.inTx(ctx, op, func(ctx context.Context, tx pgx.Tx) error {
		ids = ids[:0]
		for _, r := range rows {
			var id int64
			if err := tx.QueryRow(ctx, `
INSERT INTO product_crawl_logs (product_crawl_id, name, price, other_data)
VALUES ($1, $2, $3, $4)
RETURNING id`, crawlID, r.name, r.price, r.other).Scan(&id); err != nil {
				return fmt.Errorf("insert crawl log: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE product_crawls SET updated_at = now() WHERE id = $1`, crawlID); err != nil {
				return fmt.Errorf("touch product crawl: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

const logColumns = `id, product_crawl_id, name, price, "timestamp", other_data`

func scanLog(row pgx.Row) (store.CrawlLog, error) {
	var (
		l     store.CrawlLog
		other []byte
	)
	if err := row.Scan(&l.ID, &l.ProductCrawlID, &l.Name, &l.Price, &l.Timestamp, &other); err != nil {
		return store.CrawlLog{}, err
	}
	attrs, err := crawler.UnmarshalAttributes(other)
	if err != nil {
		return store.CrawlLog{}, err
	}
	l.OtherData = attrs
	return l, nil
}

func queryLogs(ctx context.Context, db DB, query string, args ...any) ([]store.CrawlLog, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.CrawlLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListCrawlLogs returns one page of an edge's logs, newest first.
func (s *Store) ListCrawlLogs(ctx context.Context, crawlID int64, page store.Page) ([]store.CrawlLog, error) {
	var out []store.CrawlLog
	err := s.run(ctx, "postgres.ListCrawlLogs", func(ctx context.Context, db DB) error {
		var err error
		out, err = queryLogs(ctx, db, `
SELECT `+logColumns+` FROM product_crawl_logs
WHERE product_crawl_id = $1
ORDER BY "timestamp" DESC, id DESC
LIMIT $2 OFFSET $3`, crawlID, page.Limit, page.Offset)
		return err
	})
	return out, err
}

// LatestCrawlLog returns the newest log of an edge, or nil when it has none.
func (s *Store) LatestCrawlLog(ctx context.Context, crawlID int64) (*store.CrawlLog, error) {
	var out *store.CrawlLog
	err := s.run(ctx, "postgres.LatestCrawlLog", func(ctx context.Context, db DB) error {
		l, err := scanLog(db.QueryRow(ctx, `
SELECT `+logColumns+` FROM product_crawl_logs
WHERE product_crawl_id = $1
ORDER BY "timestamp" DESC, id DESC
LIMIT 1`, crawlID))
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &l
		return nil
	})
	return out, err
}

// ProductWithCompetitors loads a product and the latest log of each edge.
func (s *Store) ProductWithCompetitors(ctx context.Context, id int64) (store.ProductWithCompetitors, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return store.ProductWithCompetitors{}, err
	}
	crawls, err := s.ListProductCrawls(ctx, id)
	if err != nil {
		return store.ProductWithCompetitors{}, err
	}
	out := store.ProductWithCompetitors{Product: product, Competitors: make([]store.CompetitorView, 0, len(crawls))}
	for _, c := range crawls {
		latest, err := s.LatestCrawlLog(ctx, c.ID)
		if err != nil {
			return store.ProductWithCompetitors{}, err
		}
		out.Competitors = append(out.Competitors, store.CompetitorView{Crawl: c, LatestLog: latest})
	}
	return out, nil
}

// PriceHistory groups a product's logs by competitor, newest first, and
// labels each group's trend from its oldest to newest priced log.
func (s *Store) PriceHistory(ctx context.Context, productID int64) ([]store.PriceHistory, error) {
	type joined struct {
		enemy string
		log   store.CrawlLog
	}
	var rowsOut []joined
	err := s.run(ctx, "postgres.PriceHistory", func(ctx context.Context, db DB) error {
		rows, err := db.Query(ctx, `
SELECT e.name, l.id, l.product_crawl_id, l.name, l.price, l."timestamp", l.other_data
FROM product_crawl_logs l
JOIN product_crawls pc ON pc.id = l.product_crawl_id
JOIN enemies e ON e.id = pc.enemy_id
WHERE pc.prod_id = $1
ORDER BY e.name, l."timestamp" DESC, l.id DESC`, productID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut = rowsOut[:0]
		for rows.Next() {
			var (
				j     joined
				other []byte
			)
			if err := rows.Scan(&j.enemy, &j.log.ID, &j.log.ProductCrawlID, &j.log.Name, &j.log.Price,
				&j.log.Timestamp, &other); err != nil {
				return fmt.Errorf("scan price history: %w", err)
			}
			if j.log.OtherData, err = crawler.UnmarshalAttributes(other); err != nil {
				return err
			}
			rowsOut = append(rowsOut, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := []store.PriceHistory{}
	for _, j := range rowsOut {
		if len(out) == 0 || out[len(out)-1].EnemyName != j.enemy {
			out = append(out, store.PriceHistory{EnemyName: j.enemy})
		}
		group := &out[len(out)-1]
		group.Logs = append(group.Logs, j.log)
	}
	for i := range out {
		prices := make([]*float64, 0, len(out[i].Logs))
		for k := len(out[i].Logs) - 1; k >= 0; k-- {
			prices = append(prices, out[i].Logs[k].Price)
		}
		out[i].Trend = crawler.ClassifyTrend(prices)
	}
	return out, nil
}
