package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
	"github.com/JakeFAU/price-sentinel/internal/logging"
	"github.com/JakeFAU/price-sentinel/internal/metrics"
	"github.com/JakeFAU/price-sentinel/internal/reminder"
	"github.com/JakeFAU/price-sentinel/internal/store"
)

// Crawler runs the capture pipeline on behalf of the HTTP handlers.
type Crawler interface {
	RunCrawl(ctx context.Context, target crawler.Target) crawler.Outcome
	Batch(ctx context.Context, targets []crawler.Target, size int) []crawler.Outcome
	CrawlProduct(ctx context.Context, productID int64) ([]crawler.Outcome, error)
	CrawlEdge(ctx context.Context, crawlID int64) (crawler.Outcome, error)
	CrawlAll(ctx context.Context) ([]crawler.Outcome, error)
	AddCompetitor(ctx context.Context, productID int64, url string) (crawler.Outcome, error)
}

// Store is the read/write surface the catalog handlers need.
type Store interface {
	store.CatalogStore
	store.SubscriptionStore
	GetProduct(ctx context.Context, id int64) (store.Product, error)
	GetProductCrawl(ctx context.Context, id int64) (store.ProductCrawl, error)
}

// ReminderChecker evaluates subscriptions on demand.
type ReminderChecker interface {
	CheckReminders(ctx context.Context) (reminder.Report, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the collaborators behind the routes.
type Deps struct {
	Crawler   Crawler
	Store     Store
	Reminders ReminderChecker
	Pinger    Pinger
}

// Options tune the HTTP surface.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	BatchSize      int
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		s.bounded(r)
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}

		// Multi-crawl routes run capture groups back to back; each capture
		// carries its own deadline.
		r.Post("/crawl/batch", s.crawlBatch)
		r.Post("/crawls/recrawl", s.recrawlAll)

		r.Group(func(r chi.Router) {
			s.bounded(r)
			r.Post("/crawl", s.crawl)

			r.Route("/enemies", func(r chi.Router) {
				r.Get("/", s.listEnemies)
				r.Get("/{id}", s.getEnemy)
				r.Delete("/{id}", s.deleteEnemy)
			})

			r.Route("/crawls/{id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Delete("/", s.deleteCrawl)
				r.Post("/crawl", s.crawlEdge)
				r.Get("/logs", s.crawlLogs)
				r.Get("/logs/latest", s.latestCrawlLog)
			})

			r.Get("/stats", s.stats)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", s.listSubscriptions)
				r.Post("/", s.createSubscription)
				r.Delete("/{id}", s.deleteSubscription)
			})

			r.Post("/reminders/check", s.checkReminders)
		})

		r.Route("/products", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				s.bounded(r)
				r.Get("/", s.listProducts)
				r.Post("/", s.createProduct)
				r.Get("/search", s.searchProducts)
				r.Get("/by-link", s.productByLink)
			})
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/crawl", s.crawlProduct)
				r.Group(func(r chi.Router) {
					s.bounded(r)
					r.Get("/", s.getProduct)
					r.Put("/", s.updateProduct)
					r.Delete("/", s.deleteProduct)
					r.Get("/competitors", s.productCompetitors)
					r.Post("/competitors", s.addCompetitor)
					r.Get("/history", s.productHistory)
					r.Get("/subscriptions", s.productSubscriptions)
					r.Post("/subscriptions", s.subscribeProduct)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		if err := s.deps.Pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, crawler.KindTransientConnectivity, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, crawler.KindUnknown, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bounded applies the request timeout to the routes registered on r.
func (s *Server) bounded(r chi.Router) {
	if s.opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(s.opts.RequestTimeout))
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out","kind":"timeout"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, crawler.KindInvalidInput, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// errorBody is the payload of every non-2xx response.
type errorBody struct {
	Error string       `json:"error"`
	Kind  crawler.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, kind crawler.Kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeErr maps a tagged error to its HTTP status.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := crawler.KindOf(err)
	if errors.Is(err, store.ErrNotFound) {
		kind = crawler.KindNotFound
	}
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	writeError(w, status, kind, err.Error())
}

func statusForKind(kind crawler.Kind) int {
	switch kind {
	case crawler.KindInvalidInput:
		return http.StatusBadRequest
	case crawler.KindParseFailure:
		return http.StatusUnprocessableEntity
	case crawler.KindNotFound:
		return http.StatusNotFound
	case crawler.KindIntegrityViolation:
		return http.StatusConflict
	case crawler.KindTimeout:
		return http.StatusGatewayTimeout
	case crawler.KindTransientConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return crawler.E(crawler.KindInvalidInput, "api.decode", errors.New("invalid JSON"))
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, crawler.E(crawler.KindInvalidInput, "api.pathID", errors.New("id must be a positive integer"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
