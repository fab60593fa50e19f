package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

const defaultStatsTop = 5

type productRequest struct {
	Name     string   `json:"name"`
	SKU      string   `json:"sku"`
	Link     string   `json:"link"`
	OrgPrice *float64 `json:"org_price"`
	CurPrice *float64 `json:"cur_price"`
}

func (req productRequest) product(id int64) (store.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return store.Product{}, crawler.E(crawler.KindInvalidInput, "api.product", errors.New("name required"))
	}
	for _, p := range []*float64{req.OrgPrice, req.CurPrice} {
		if p != nil && *p < 0 {
			return store.Product{}, crawler.E(crawler.KindInvalidInput, "api.product", errors.New("prices must not be negative"))
		}
	}
	return store.Product{
		ID:       id,
		Name:     name,
		SKU:      strings.TrimSpace(req.SKU),
		Link:     strings.TrimSpace(req.Link),
		OrgPrice: req.OrgPrice,
		CurPrice: req.CurPrice,
	}, nil
}

type productPage struct {
	Products []store.Product `json:"products"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PerPage  int             `json:"per_page"`
}

func pageOf(r *http.Request) (store.Page, int) {
	page := store.NewPage(queryInt(r, "page", 1), queryInt(r, "per_page", store.DefaultPerPage))
	return page, page.Offset/page.Limit + 1
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	page, number := pageOf(r)
	products, total, err := s.deps.Store.ListProducts(r.Context(), page)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productPage{Products: products, Total: total, Page: number, PerPage: page.Limit})
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := req.product(0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateProduct(r.Context(), p)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) searchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeErr(w, r, crawler.E(crawler.KindInvalidInput, "api.searchProducts", errors.New("q required")))
		return
	}
	products, err := s.deps.Store.SearchProducts(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) productByLink(w http.ResponseWriter, r *http.Request) {
	link := strings.TrimSpace(r.URL.Query().Get("link"))
	if link == "" {
		s.writeErr(w, r, crawler.E(crawler.KindInvalidInput, "api.productByLink", errors.New("link required")))
		return
	}
	p, err := s.deps.Store.GetProductByLink(r.Context(), link)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.deps.Store.GetProduct(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := req.product(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	updated, err := s.deps.Store.UpdateProduct(r.Context(), p)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.deps.Store.DeleteProduct)
}

func (s *Server) productCompetitors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	view, err := s.deps.Store.ProductWithCompetitors(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) productHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	history, err := s.deps.Store.PriceHistory(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) listEnemies(w http.ResponseWriter, r *http.Request) {
	enemies, err := s.deps.Store.ListEnemies(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enemies": enemies})
}

func (s *Server) getEnemy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	enemy, err := s.deps.Store.GetEnemy(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enemy)
}

func (s *Server) deleteEnemy(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.deps.Store.DeleteEnemy)
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	edge, err := s.deps.Store.GetProductCrawl(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) deleteCrawl(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, s.deps.Store.DeleteProductCrawl)
}

func (s *Server) crawlLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, number := pageOf(r)
	logs, err := s.deps.Store.ListCrawlLogs(r.Context(), id, page)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "page": number, "per_page": page.Limit})
}

func (s *Server) latestCrawlLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	latest, err := s.deps.Store.LatestCrawlLog(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if latest == nil {
		s.writeErr(w, r, crawler.E(crawler.KindNotFound, "api.latestCrawlLog", store.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	top := queryInt(r, "top", defaultStatsTop)
	if top <= 0 || top > store.MaxPerPage {
		top = defaultStatsTop
	}
	stats, err := s.deps.Store.Stats(r.Context(), top)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) deleteByID(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, id int64) error) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
