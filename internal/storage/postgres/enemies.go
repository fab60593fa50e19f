package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

const enemyColumns = `id, name, domain, created_at, updated_at`

func scanEnemy(row pgx.Row) (store.Enemy, error) {
	var e store.Enemy
	err := row.Scan(&e.ID, &e.Name, &e.Domain, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// SaveEnemy inserts a competitor or renames the one with the same domain and
// returns its id. Domains are compared exactly.
func (s *Store) SaveEnemy(ctx context.Context, name, domain string) (int64, error) {
	const op = "postgres.SaveEnemy"
	if strings.TrimSpace(name) == "" || strings.TrimSpace(domain) == "" {
		return 0, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("enemy name and domain are required"))
	}
	var id int64
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		return db.QueryRow(ctx, `
INSERT INTO enemies (name, domain)
VALUES ($1, $2)
ON CONFLICT (domain) DO UPDATE
SET name = EXCLUDED.name, updated_at = now()
RETURNING id`, name, domain).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindEnemyByDomain returns the competitor with exactly domain, or failing
// that the shortest domain containing it as a literal substring.
func (s *Store) FindEnemyByDomain(ctx context.Context, domain string) (store.Enemy, error) {
	var out store.Enemy
	err := s.run(ctx, "postgres.FindEnemyByDomain", func(ctx context.Context, db DB) error {
		var err error
		out, err = scanEnemy(db.QueryRow(ctx, `SELECT `+enemyColumns+` FROM enemies WHERE domain = $1`, domain))
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		out, err = scanEnemy(db.QueryRow(ctx, `
SELECT `+enemyColumns+` FROM enemies
WHERE strpos(domain, $1) > 0
ORDER BY length(domain), id
LIMIT 1`, domain))
		return err
	})
	return out, err
}

// GetEnemy loads a competitor by id.
func (s *Store) GetEnemy(ctx context.Context, id int64) (store.Enemy, error) {
	var out store.Enemy
	err := s.run(ctx, "postgres.GetEnemy", func(ctx context.Context, db DB) error {
		var err error
		out, err = scanEnemy(db.QueryRow(ctx, `SELECT `+enemyColumns+` FROM enemies WHERE id = $1`, id))
		return err
	})
	return out, err
}

// ListEnemies returns every competitor ordered by name.
func (s *Store) ListEnemies(ctx context.Context) ([]store.Enemy, error) {
	var out []store.Enemy
	err := s.run(ctx, "postgres.ListEnemies", func(ctx context.Context, db DB) error {
		rows, err := db.Query(ctx, `SELECT `+enemyColumns+` FROM enemies ORDER BY name, id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = []store.Enemy{}
		for rows.Next() {
			e, err := scanEnemy(rows)
			if err != nil {
				return fmt.Errorf("scan enemy: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteEnemy removes a competitor and, by cascade, its crawl edges and logs.
func (s *Store) DeleteEnemy(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "postgres.DeleteEnemy", `DELETE FROM enemies WHERE id = $1`, id)
}
