package crawler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Classification tells the orchestrator where an extracted record belongs.
type Classification string

// Supported classifications.
const (
	ClassOwn        Classification = "own"
	ClassCompetitor Classification = "competitor"
)

// ParseClassification accepts the API/CLI spelling of a classification.
// "original" and "enemy" are accepted as aliases.
func ParseClassification(raw string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "own", "original":
		return ClassOwn, nil
	case "competitor", "enemy", "":
		return ClassCompetitor, nil
	default:
		return "", E(KindInvalidInput, "crawler.ParseClassification", fmt.Errorf("unknown classification %q", raw))
	}
}

// Target describes one URL to crawl and how to route its result.
type Target struct {
	URL   string
	Class Classification

	// CompetitorName and CompetitorDomain override the values derived from URL.
	CompetitorName   string
	CompetitorDomain string
	// CrawlID reuses an existing ProductCrawl edge instead of creating one.
	CrawlID int64
	// ProductID attaches a new competitor edge to an existing product.
	ProductID int64

	// ProductName and SKU identify an own product.
	ProductName string
	SKU         string
}

// Reserved record keys produced by the extractor.
const (
	FieldProductName      = "product_name"
	FieldCurrentPrice     = "current_price"
	FieldPromotionalPrice = "promotional_price"
	FieldLink             = "link"
	FieldSnapshotURI      = "snapshot_uri"
	FieldHeuristic        = "heuristic"
)

// Attributes is an open set of extracted fields. Values are JSON scalars,
// arrays or objects as decoded by encoding/json.
type Attributes map[string]any

// Marshal serializes the attributes for a JSON column. A nil map encodes as {}.
func (a Attributes) Marshal() ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return data, nil
}

// UnmarshalAttributes decodes a JSON column into Attributes.
func UnmarshalAttributes(data []byte) (Attributes, error) {
	if len(data) == 0 {
		return Attributes{}, nil
	}
	out := Attributes{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return out, nil
}

// ProductRecord is one product as read from a snapshot.
type ProductRecord Attributes

// Name returns the product_name field, or "" when it is absent or not text.
func (r ProductRecord) Name() string {
	return r.Text(FieldProductName)
}

// Text returns the trimmed string form of key. Numbers are formatted without
// exponent so prices survive a round trip.
func (r ProductRecord) Text(key string) string {
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Number returns key as a float64 when it already holds a number.
func (r ProductRecord) Number(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of the record.
func (r ProductRecord) Clone() ProductRecord {
	out := make(ProductRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Outcome reports the result of one crawl. Err is nil on success.
type Outcome struct {
	URL       string          `json:"url"`
	Class     Classification  `json:"classification"`
	Success   bool            `json:"success"`
	ProductID int64           `json:"product_id,omitempty"`
	EnemyID   int64           `json:"enemy_id,omitempty"`
	CrawlID   int64           `json:"crawl_id,omitempty"`
	LogIDs    []int64         `json:"log_ids,omitempty"`
	Records   []ProductRecord `json:"records,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Err       error           `json:"-"`
}

// ErrorText returns the outcome error message, or "" on success.
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
