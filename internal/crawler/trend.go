package crawler

// Trend describes the direction of a price series.
type Trend string

// Trend values.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ClassifyTrend compares the last priced entry with the first one. Nil
// entries are skipped; fewer than two prices is stable.
func ClassifyTrend(prices []*float64) Trend {
	var first, last *float64
	count := 0
	for _, p := range prices {
		if p == nil {
			continue
		}
		if first == nil {
			first = p
		}
		last = p
		count++
	}
	if count < 2 {
		return TrendStable
	}
	switch {
	case *last > *first:
		return TrendIncreasing
	case *last < *first:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
