package extract

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/price"
)

// Heuristic builds a single record from unstructured reply text. The first
// line mentioning a name keyword gives the name. The first line holding a
// digit and a price keyword gives the price. The record is marked heuristic.
func (e *Extractor) Heuristic(reply, sourceURL string) crawler.ProductRecord {
	var name, rawPrice string
	for _, line := range strings.Split(StripFences(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if name == "" && containsAny(lower, e.cfg.NameKeywords) {
			name = valueAfterLabel(line)
		}
		if rawPrice == "" && hasDigit(line) && containsAny(lower, e.cfg.PriceKeywords) {
			rawPrice = valueAfterLabel(line)
		}
		if name != "" && rawPrice != "" {
			break
		}
	}
	if name == "" {
		name = UnknownProduct
	}

	rec := crawler.ProductRecord{
		crawler.FieldProductName: name,
		crawler.FieldLink:        sourceURL,
		crawler.FieldHeuristic:   true,
	}
	if rawPrice != "" {
		rec[crawler.FieldCurrentPrice] = price.NormalizeStrict(rawPrice)
	}
	return rec
}

// valueAfterLabel drops a "Label:" prefix and surrounding JSON punctuation.
func valueAfterLabel(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 && idx < len(line)-1 {
		line = line[idx+1:]
	}
	return strings.Trim(strings.TrimSpace(line), `"',{}[] `)
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
