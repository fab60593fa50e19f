// Package api hosts the HTTP server, middleware, and REST handlers for the
// price tracker. Notable routes:
//   - GET /healthz and /readyz for liveness and database readiness.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl and /v1/crawl/batch to run the capture pipeline.
//   - /v1/products, /v1/enemies and /v1/crawls for catalog queries.
//   - /v1/subscriptions and POST /v1/reminders/check for undercut alerts.
package api
