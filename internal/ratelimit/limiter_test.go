package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesSameHost(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.vn/p/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://SHOP.vn/p/2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.vn/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.vn/1"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	l := New(Config{QPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.vn"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.vn"))
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	t.Parallel()
	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://a.vn"))

	l := New(Config{})
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "https://a.vn"))
	}
	require.Zero(t, l.Hosts())
}
