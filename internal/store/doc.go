// Package store declares the durable entities of the price tracker and the
// repository interfaces the pipeline, API and reminder checker consume.
package store
