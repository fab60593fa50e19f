package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestClassifyTrend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prices []*float64
		want   Trend
	}{
		{"increasing", []*float64{ptr(100), ptr(90), ptr(120)}, TrendIncreasing},
		{"decreasing", []*float64{ptr(100), ptr(150), ptr(80)}, TrendDecreasing},
		{"stable", []*float64{ptr(100), ptr(50), ptr(100)}, TrendStable},
		{"unpriced entries skipped", []*float64{nil, ptr(10), nil, ptr(20), nil}, TrendIncreasing},
		{"single price", []*float64{ptr(10), nil}, TrendStable},
		{"empty", nil, TrendStable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ClassifyTrend(tc.prices))
		})
	}
}

func TestCanonicalDomain(t *testing.T) {
	t.Parallel()

	domain, err := CanonicalDomain("https://www.Shop.Example.com:8443/p/1?x=1")
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", domain)
	require.Equal(t, "example", EnemyName(domain))
	require.Equal(t, "localhost", EnemyName("localhost"))

	_, err = CanonicalDomain("not a url")
	require.True(t, IsKind(err, KindInvalidInput))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", E(KindIntegrityViolation, "postgres.SaveEnemy", base))
	require.Equal(t, KindIntegrityViolation, KindOf(wrapped))
	require.ErrorIs(t, wrapped, base)
	require.Equal(t, KindTimeout, KindOf(fmt.Errorf("nav: %w", context.DeadlineExceeded)))
	require.Equal(t, KindUnknown, KindOf(base))
	require.Equal(t, Kind(""), KindOf(nil))
	require.Nil(t, E(KindUnknown, "op", nil))
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	got, err := ParseClassification("Original")
	require.NoError(t, err)
	require.Equal(t, ClassOwn, got)

	got, err = ParseClassification("")
	require.NoError(t, err)
	require.Equal(t, ClassCompetitor, got)

	_, err = ParseClassification("friend")
	require.True(t, IsKind(err, KindInvalidInput))
}

func TestProductRecordText(t *testing.T) {
	t.Parallel()

	rec := ProductRecord{"product_name": "  Phone X ", "current_price": 16490000.0, "tags": []any{"a"}}
	require.Equal(t, "Phone X", rec.Name())
	require.Equal(t, "16490000", rec.Text(FieldCurrentPrice))
	require.Equal(t, "", rec.Text("missing"))

	clone := rec.Clone()
	clone["product_name"] = "other"
	require.Equal(t, "Phone X", rec.Name())

	data, err := Attributes(rec).Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalAttributes(data)
	require.NoError(t, err)
	require.Equal(t, 16490000.0, decoded["current_price"])
}
