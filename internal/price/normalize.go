// Package price turns scraped price text such as "16.490.000 VNĐ" or
// "$1,299" into numbers.
package price

import (
	"encoding/json"
	"strconv"
	"strings"
)

var currencyTokens = strings.NewReplacer("$", "", "€", "", "VND", "", "₫", "", "VNĐ", "")

// Normalize converts raw into a price. Strings have currency tokens removed
// and their separators interpreted: a lone "." or a lone "," marks thousands,
// both together mean "." for thousands and "," for decimals. Numbers pass
// through unchanged. It returns nil when no price can be read.
func Normalize(raw any) *float64 {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		return normalizeText(v)
	default:
		return nil
	}
}

func normalizeText(raw string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, currencyTokens.Replace(raw))
	if !strings.ContainsAny(cleaned, "0123456789") {
		return nil
	}

	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")
	switch {
	case hasDot && hasComma:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &value
}

var strictTokens = strings.NewReplacer("VND", "", "VNĐ", "", "₫", "", "vnd", "", "vnđ", "", "đ", "", "$", "", " ", "")

// NormalizeStrict keeps only the digits of raw and reads them as a whole
// currency amount. Model-extracted prices carry no decimals, so every
// separator is dropped. Anything unreadable, including non-text input, is 0.
func NormalizeStrict(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return NormalizeStrict(v.String())
	case string:
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, strictTokens.Replace(v))
		if digits == "" {
			return 0
		}
		value, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0
		}
		return value
	default:
		return 0
	}
}
