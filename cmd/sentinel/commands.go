package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/price-sentinel/internal/crawler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the scheduler",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app App) error {
			return app.Run(cmd.Context())
		}),
	}
}

func newCrawlCmd() *cobra.Command {
	var (
		class   string
		name    string
		sku     string
		crawlID int64
	)
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Capture one page and record its product and price",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, app App) error {
			classification, err := crawler.ParseClassification(class)
			if err != nil {
				return err
			}
			outcome := app.Crawler().RunCrawl(cmd.Context(), crawler.Target{
				URL:         args[0],
				Class:       classification,
				ProductName: name,
				SKU:         sku,
				CrawlID:     crawlID,
			})
			if err := printOutcomes(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
			return outcome.Err
		}),
	}
	cmd.Flags().StringVarP(&class, "class", "c", "competitor", "classification: own or competitor")
	cmd.Flags().StringVar(&name, "name", "", "product name override for own products")
	cmd.Flags().StringVar(&sku, "sku", "", "SKU to upsert for own products")
	cmd.Flags().Int64Var(&crawlID, "crawl-id", 0, "existing competitor crawl edge to log against")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		class string
		file  string
		size  int
	)
	cmd := &cobra.Command{
		Use:   "batch [url...]",
		Short: "Crawl many URLs in bounded parallel groups",
		RunE: withApp(func(cmd *cobra.Command, args []string, app App) error {
			classification, err := crawler.ParseClassification(class)
			if err != nil {
				return err
			}
			urls := args
			if file != "" {
				fromFile, err := readURLFile(file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no URLs given; pass them as arguments or with --file")
			}
			targets := make([]crawler.Target, 0, len(urls))
			for _, u := range urls {
				targets = append(targets, crawler.Target{URL: u, Class: classification})
			}
			outcomes := app.Crawler().Batch(cmd.Context(), targets, size)
			if err := printOutcomes(cmd.OutOrStdout(), outcomes...); err != nil {
				return err
			}
			return failedCount(outcomes)
		}),
	}
	cmd.Flags().StringVarP(&class, "class", "c", "competitor", "classification for every URL: own or competitor")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one URL per line; # starts a comment")
	cmd.Flags().IntVar(&size, "size", 0, "crawls per parallel group (default crawl.batch_size)")
	return cmd
}

func newRecrawlCmd() *cobra.Command {
	var (
		productID int64
		crawlID   int64
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "recrawl",
		Short: "Re-crawl tracked competitor listings",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app App) error {
			var (
				outcomes []crawler.Outcome
				err      error
			)
			switch {
			case crawlID > 0:
				o, err := app.Crawler().CrawlEdge(cmd.Context(), crawlID)
				if err != nil {
					return err
				}
				outcomes = []crawler.Outcome{o}
			case productID > 0:
				outcomes, err = app.Crawler().CrawlProduct(cmd.Context(), productID)
				if err != nil {
					return err
				}
			case all:
				outcomes, err = app.Crawler().CrawlAll(cmd.Context())
				if err != nil {
					return err
				}
			default:
				return errors.New("one of --crawl, --product or --all is required")
			}
			if err := printOutcomes(cmd.OutOrStdout(), outcomes...); err != nil {
				return err
			}
			return failedCount(outcomes)
		}),
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "re-crawl every competitor of this product")
	cmd.Flags().Int64Var(&crawlID, "crawl", 0, "re-crawl one competitor edge")
	cmd.Flags().BoolVar(&all, "all", false, "re-crawl every competitor edge")
	cmd.MarkFlagsMutuallyExclusive("product", "crawl", "all")
	return cmd
}

func newRemindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Check subscriptions and send undercut alerts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app App) error {
			report, err := app.Checker().CheckReminders(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		}),
	}
}

type outcomeLine struct {
	crawler.Outcome
	Error string       `json:"error,omitempty"`
	Kind  crawler.Kind `json:"kind,omitempty"`
}

func printOutcomes(w io.Writer, outcomes ...crawler.Outcome) error {
	for _, o := range outcomes {
		if err := writeJSON(w, outcomeLine{Outcome: o, Error: o.ErrorText(), Kind: crawler.KindOf(o.Err)}); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func failedCount(outcomes []crawler.Outcome) error {
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d crawls failed", failed, len(outcomes))
	}
	return nil
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
