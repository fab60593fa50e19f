package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/price"
)

const previewRunes = 200

// Parse decodes a model reply into records. The reply may be wrapped in a
// markdown code fence and may hold one object, an array of objects, or an
// object with a "products" array.
func (e *Extractor) Parse(reply, sourceURL string) ([]crawler.ProductRecord, error) {
	const op = "extract.Parse"
	body := StripFences(reply)

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, crawler.E(crawler.KindParseFailure, op,
			fmt.Errorf("%w: %w (preview %q)", ErrParseFailed, err, Preview(body)))
	}

	items, err := elements(raw)
	if err != nil {
		return nil, crawler.E(crawler.KindParseFailure, op,
			fmt.Errorf("%w: %w (preview %q)", ErrParseFailed, err, Preview(body)))
	}

	records := make([]crawler.ProductRecord, 0, len(items))
	for _, item := range items {
		records = append(records, e.normalizeRecord(item, sourceURL))
	}
	return records, nil
}

func elements(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		if nested, ok := v["products"].([]any); ok {
			return objects(nested)
		}
		return []map[string]any{v}, nil
	case []any:
		return objects(v)
	default:
		return nil, fmt.Errorf("expected object or array, got %T", raw)
	}
}

func objects(list []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not an object", i, item)
		}
		out = append(out, obj)
	}
	return out, nil
}

func (e *Extractor) normalizeRecord(item map[string]any, sourceURL string) crawler.ProductRecord {
	rec := crawler.ProductRecord(item).Clone()
	for _, key := range []string{crawler.FieldCurrentPrice, crawler.FieldPromotionalPrice} {
		if v, ok := rec[key]; ok && v != nil && v != "" {
			rec[key] = price.NormalizeStrict(v)
		}
	}
	if name, ok := rec[crawler.FieldProductName]; !ok || name == nil || name == "" {
		rec[crawler.FieldProductName] = e.recoverName(rec)
	}
	rec[crawler.FieldLink] = sourceURL
	return rec
}

func (e *Extractor) recoverName(rec crawler.ProductRecord) string {
	for _, field := range e.cfg.NameFallbackFields {
		if name := strings.TrimSpace(rec.Text(field)); name != "" {
			return name
		}
	}
	return UnknownProduct
}

// StripFences removes a leading ``` or ```json fence and a trailing ``` fence.
func StripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Preview returns at most the first 200 runes of s.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewRunes])
}
