//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// Run with: SENTINEL_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/storage/postgres/
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SENTINEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := Open(ctx, Config{URL: url, RetryAttempts: 3, RetryBaseDelay: 100 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestDeleteProductCascadesToEdgesLogsAndSubscriptions(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	domain := fmt.Sprintf("cascade-%d.example.com", time.Now().UnixNano())

	product, err := s.CreateProduct(ctx, store.Product{Name: "Cascade Phone"})
	require.NoError(t, err)
	enemyID, err := s.SaveEnemy(ctx, "cascade", domain)
	require.NoError(t, err)
	crawlID, err := s.SaveProductCrawl(ctx, product.ID, enemyID, "https://"+domain+"/p")
	require.NoError(t, err)
	_, err = s.SaveProductCrawlLog(ctx, crawlID, []crawler.ProductRecord{{"product_name": "Cascade Phone", "price": "10"}})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, product.ID, "ops@example.com")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProduct(ctx, product.ID))

	_, err = s.GetProductCrawl(ctx, crawlID)
	require.ErrorIs(t, err, store.ErrNotFound)
	latest, err := s.LatestCrawlLog(ctx, crawlID)
	require.NoError(t, err)
	require.Nil(t, latest)
	subs, err := s.ListSubscriptionsByProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.NoError(t, s.DeleteEnemy(ctx, enemyID))
}

func TestSaveProductGeneratedSKUsDoNotMerge(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	first, err := s.SaveProduct(ctx, store.Product{Name: "Samsung Galaxy"})
	require.NoError(t, err)
	second, err := s.SaveProduct(ctx, store.Product{Name: "Sony Gamepad"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	got, err := s.GetProduct(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "Samsung Galaxy", got.Name)

	require.NoError(t, s.DeleteProduct(ctx, first))
	require.NoError(t, s.DeleteProduct(ctx, second))
}
