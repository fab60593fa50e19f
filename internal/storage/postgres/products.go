package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

const productColumns = `id, name, COALESCE(sku, ''), COALESCE(link, ''), org_price, cur_price, created_at, updated_at`

// GenerateSKU builds a SKU from the upper-cased first letter of each word in
// name followed by the Unix timestamp of at.
func GenerateSKU(name string, at time.Time) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	b.WriteString(strconv.FormatInt(at.Unix(), 10))
	return b.String()
}

func scanProduct(row pgx.Row) (store.Product, error) {
	var p store.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Link, &p.OrgPrice, &p.CurPrice, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SaveProduct upserts p by SKU when the caller supplies one. Without a SKU a
// fresh one is generated and the product is always inserted as a new row.
func (s *Store) SaveProduct(ctx context.Context, p store.Product) (int64, error) {
	const op = "postgres.SaveProduct"
	if strings.TrimSpace(p.Name) == "" {
		return 0, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("product name is required"))
	}
	query := `
INSERT INTO products (name, sku, link, org_price, cur_price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (sku) DO UPDATE
SET name = EXCLUDED.name,
	link = EXCLUDED.link,
	org_price = EXCLUDED.org_price,
	cur_price = EXCLUDED.cur_price,
	updated_at = now()
RETURNING id`
	if p.SKU == "" {
		p.SKU = s.uniqueSKU(p.Name)
		query = `
INSERT INTO products (name, sku, link, org_price, cur_price)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	}
	var id int64
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		return db.QueryRow(ctx, query, p.Name, p.SKU, nullable(p.Link), p.OrgPrice, p.CurPrice).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// uniqueSKU appends a random suffix to GenerateSKU; names with the same
// initials in the same second must not share a SKU.
func (s *Store) uniqueSKU(name string) string {
	return GenerateSKU(name, s.now()) + "-" + s.skuSuffix()
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CreateProduct inserts a new product; a duplicate SKU is an integrity violation.
func (s *Store) CreateProduct(ctx context.Context, p store.Product) (store.Product, error) {
	const op = "postgres.CreateProduct"
	if strings.TrimSpace(p.Name) == "" {
		return store.Product{}, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("product name is required"))
	}
	if p.SKU == "" {
		p.SKU = s.uniqueSKU(p.Name)
	}
	if p.CurPrice == nil {
		p.CurPrice = p.OrgPrice
	}
	var out store.Product
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		var err error
		out, err = scanProduct(db.QueryRow(ctx, `
INSERT INTO products (name, sku, link, org_price, cur_price)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+productColumns, p.Name, p.SKU, nullable(p.Link), p.OrgPrice, p.CurPrice))
		return err
	})
	return out, err
}

// GetProduct loads a product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (store.Product, error) {
	var out store.Product
	err := s.run(ctx, "postgres.GetProduct", func(ctx context.Context, db DB) error {
		var err error
		out, err = scanProduct(db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
		return err
	})
	return out, err
}

// GetProductByLink loads the most recently updated product with link.
func (s *Store) GetProductByLink(ctx context.Context, link string) (store.Product, error) {
	var out store.Product
	err := s.run(ctx, "postgres.GetProductByLink", func(ctx context.Context, db DB) error {
		var err error
		out, err = scanProduct(db.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE link = $1 ORDER BY updated_at DESC LIMIT 1`, link))
		return err
	})
	return out, err
}

// UpdateProduct overwrites the editable columns of p.
func (s *Store) UpdateProduct(ctx context.Context, p store.Product) (store.Product, error) {
	const op = "postgres.UpdateProduct"
	if strings.TrimSpace(p.Name) == "" {
		return store.Product{}, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("product name is required"))
	}
	var out store.Product
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		var err error
		out, err = scanProduct(db.QueryRow(ctx, `
UPDATE products
SET name = $1, sku = COALESCE($2, sku), link = $3, org_price = $4, cur_price = $5, updated_at = now()
WHERE id = $6
RETURNING `+productColumns, p.Name, nullable(p.SKU), nullable(p.Link), p.OrgPrice, p.CurPrice, p.ID))
		return err
	})
	return out, err
}

// DeleteProduct removes a product; its crawl edges, logs and subscriptions
// cascade.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "postgres.DeleteProduct", `DELETE FROM products WHERE id = $1`, id)
}

func (s *Store) deleteByID(ctx context.Context, op, query string, id int64) error {
	return s.run(ctx, op, func(ctx context.Context, db DB) error {
		tag, err := db.Exec(ctx, query, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// ListProducts returns one page of products ordered by name plus the total count.
func (s *Store) ListProducts(ctx context.Context, page store.Page) ([]store.Product, int64, error) {
	var (
		out   []store.Product
		total int64
	)
	err := s.run(ctx, "postgres.ListProducts", func(ctx context.Context, db DB) error {
		if err := db.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&total); err != nil {
			return err
		}
		var err error
		out, err = queryProducts(ctx, db,
			`SELECT `+productColumns+` FROM products ORDER BY name LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
		return err
	})
	return out, total, err
}

// SearchProducts matches query against name and SKU, case-insensitively.
func (s *Store) SearchProducts(ctx context.Context, query string) ([]store.Product, error) {
	var out []store.Product
	err := s.run(ctx, "postgres.SearchProducts", func(ctx context.Context, db DB) error {
		var err error
		out, err = queryProducts(ctx, db, `
SELECT `+productColumns+` FROM products
WHERE name ILIKE $1 OR sku ILIKE $1
ORDER BY name
LIMIT 50`, "%"+query+"%")
		return err
	})
	return out, err
}

func queryProducts(ctx context.Context, db DB, query string, args ...any) ([]store.Product, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
