// Package crawler defines the vocabulary shared by the crawl-extract-persist
// pipeline: crawl targets and their classification, extracted product records,
// per-crawl outcomes, the error taxonomy, and helpers for competitor domains
// and price trends.
package crawler
