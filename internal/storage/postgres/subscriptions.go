package postgres

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

const subscriptionColumns = `id, product_id, email, created_at`

func scanSubscription(row pgx.Row) (store.Subscription, error) {
	var sub store.Subscription
	err := row.Scan(&sub.ID, &sub.ProductID, &sub.Email, &sub.CreatedAt)
	return sub, err
}

// CreateSubscription registers email for undercut alerts on a product.
func (s *Store) CreateSubscription(ctx context.Context, productID int64, email string) (store.Subscription, error) {
	const op = "postgres.CreateSubscription"
	if productID <= 0 {
		return store.Subscription{}, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("product id is required"))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return store.Subscription{}, crawler.E(crawler.KindInvalidInput, op, fmt.Errorf("invalid email %q: %w", email, err))
	}
	var out store.Subscription
	err = s.run(ctx, op, func(ctx context.Context, db DB) error {
		var err error
		out, err = scanSubscription(db.QueryRow(ctx, `
INSERT INTO subscriptions (product_id, email)
VALUES ($1, $2)
RETURNING `+subscriptionColumns, productID, addr.Address))
		return err
	})
	return out, err
}

// ListSubscriptions returns every subscription ordered by id.
func (s *Store) ListSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	return s.querySubscriptions(ctx, "postgres.ListSubscriptions",
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
}

// ListSubscriptionsByProduct returns the subscriptions of one product.
func (s *Store) ListSubscriptionsByProduct(ctx context.Context, productID int64) ([]store.Subscription, error) {
	return s.querySubscriptions(ctx, "postgres.ListSubscriptionsByProduct",
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE product_id = $1 ORDER BY id`, productID)
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "postgres.DeleteSubscription", `DELETE FROM subscriptions WHERE id = $1`, id)
}

func (s *Store) querySubscriptions(ctx context.Context, op, query string, args ...any) ([]store.Subscription, error) {
	var out []store.Subscription
	err := s.run(ctx, op, func(ctx context.Context, db DB) error {
		rows, err := db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = []store.Subscription{}
		for rows.Next() {
			sub, err := scanSubscription(rows)
			if err != nil {
				return fmt.Errorf("scan subscription: %w", err)
			}
			out = append(out, sub)
		}
		return rows.Err()
	})
	return out, err
}
