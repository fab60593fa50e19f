// Package main is the entry point for the sentinel CLI.
//
// Usage:
//
//	sentinel serve --config config.yaml
//	sentinel crawl https://shop.example/p/123 --class competitor
//	sentinel batch --file urls.txt --size 3
//	sentinel recrawl --all
//	sentinel remind
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	Execute()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
