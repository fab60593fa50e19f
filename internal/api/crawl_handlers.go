package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

type crawlRequest struct {
	URL              string `json:"url"`
	Classification   string `json:"classification"`
	ProductName      string `json:"product_name"`
	SKU              string `json:"sku"`
	CrawlID          int64  `json:"crawl_id"`
	CompetitorName   string `json:"competitor_name"`
	CompetitorDomain string `json:"competitor_domain"`
}

func (req crawlRequest) target() (crawler.Target, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return crawler.Target{}, crawler.E(crawler.KindInvalidInput, "api.crawl", errors.New("url required"))
	}
	class, err := crawler.ParseClassification(req.Classification)
	if err != nil {
		return crawler.Target{}, err
	}
	return crawler.Target{
		URL:              url,
		Class:            class,
		ProductName:      req.ProductName,
		SKU:              req.SKU,
		CrawlID:          req.CrawlID,
		CompetitorName:   req.CompetitorName,
		CompetitorDomain: req.CompetitorDomain,
	}, nil
}

type batchRequest struct {
	URLs           []string       `json:"urls"`
	Classification string         `json:"classification"`
	Targets        []crawlRequest `json:"targets"`
	BatchSize      int            `json:"batch_size"`
}

// outcomeView adds the error text and kind that Outcome keeps out of JSON.
type outcomeView struct {
	crawler.Outcome
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Kind       crawler.Kind `json:"kind,omitempty"`
}

func viewOf(o crawler.Outcome) outcomeView {
	return outcomeView{
		Outcome:    o,
		DurationMS: o.Duration.Milliseconds(),
		Error:      o.ErrorText(),
		Kind:       crawler.KindOf(o.Err),
	}
}

type batchResponse struct {
	Outcomes  []outcomeView `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

func summarize(outcomes []crawler.Outcome) batchResponse {
	resp := batchResponse{Outcomes: make([]outcomeView, 0, len(outcomes))}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, viewOf(o))
		if o.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// writeOutcome answers a single crawl. A failed crawl carries the outcome in
// the error payload.
func writeOutcome(w http.ResponseWriter, o crawler.Outcome) {
	status := http.StatusOK
	if !o.Success {
		status = statusForKind(crawler.KindOf(o.Err))
	}
	writeJSON(w, status, viewOf(o))
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	target, err := req.target()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeOutcome(w, s.deps.Crawler.RunCrawl(r.Context(), target))
}

func (s *Server) crawlBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	reqs := req.Targets
	for _, u := range req.URLs {
		reqs = append(reqs, crawlRequest{URL: u, Classification: req.Classification})
	}
	if len(reqs) == 0 {
		s.writeErr(w, r, crawler.E(crawler.KindInvalidInput, "api.crawlBatch", errors.New("urls or targets required")))
		return
	}
	targets := make([]crawler.Target, 0, len(reqs))
	for _, cr := range reqs {
		target, err := cr.target()
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		targets = append(targets, target)
	}
	size := req.BatchSize
	if size <= 0 {
		size = s.opts.BatchSize
	}
	writeJSON(w, http.StatusOK, summarize(s.deps.Crawler.Batch(r.Context(), targets, size)))
}

func (s *Server) crawlProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	outcomes, err := s.deps.Crawler.CrawlProduct(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(outcomes))
}

func (s *Server) crawlEdge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	outcome, err := s.deps.Crawler.CrawlEdge(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}

func (s *Server) recrawlAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.deps.Crawler.CrawlAll(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(outcomes))
}

func (s *Server) addCompetitor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeErr(w, r, crawler.E(crawler.KindInvalidInput, "api.addCompetitor", errors.New("url required")))
		return
	}
	outcome, err := s.deps.Crawler.AddCompetitor(r.Context(), id, strings.TrimSpace(req.URL))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeOutcome(w, outcome)
}
