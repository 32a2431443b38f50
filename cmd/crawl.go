package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/app"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/processing"
)

type intakeFlags struct {
	nodes         string
	relationships string
	model         string
}

// newURLCmd creates the 'url' subcommand, which fetches and processes single pages.
func newURLCmd(root *rootOptions) *cobra.Command {
	flags := &intakeFlags{}
	cmd := &cobra.Command{
		Use:   "url <url>...",
		Short: "Fetches each URL and processes it as one document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := appInstance.ProcessOptions(flags.nodes, flags.relationships)
			if err != nil {
				return err
			}
			summaries, err := processURLs(cmd, appInstance, args, opts)
			if werr := writeResult(cmd, root, map[string]any{"documents": summaries}); werr != nil {
				return werr
			}
			return err
		},
	}
	addTypeFlags(cmd, &flags.nodes, &flags.relationships, &flags.model)
	return cmd
}

// processURLs fetches and processes each URL in order. The first failure is
// returned after every URL has been attempted.
func processURLs(cmd *cobra.Command, appInstance App, urls []string, opts processing.Options) ([]processing.Summary, error) {
	ctx := cmd.Context()
	logger := appInstance.Logger()
	var firstErr error
	summaries := make([]processing.Summary, 0, len(urls))
	for _, u := range urls {
		page, err := appInstance.Fetcher().Fetch(ctx, u)
		if err != nil {
			logger.Warn("fetch failed", zap.String("url", u), zap.Error(err))
			summaries = append(summaries, processing.Summary{FileName: u, Status: ingest.StatusFailed, ErrorMessage: err.Error()})
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch %s: %w", u, err)
			}
			continue
		}
		if page.URL == "" {
			page.URL = u
		}
		summary, err := appInstance.ProcessDocument(ctx, app.URLDocument(page), []ingest.Page{page}, opts)
		summaries = append(summaries, summary)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("process %s: %w", u, err)
		}
	}
	return summaries, firstErr
}

// newCrawlCmd creates the 'crawl' subcommand, which walks the web from the
// start URLs and processes every page it admits.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	flags := &intakeFlags{}
	var maxURLs, maxWorkers int
	cmd := &cobra.Command{
		Use:   "crawl <start-url>...",
		Short: "Crawls from the start URLs and processes each page",
		Long: `Crawls breadth-first from the start URLs in rounds of concurrent fetches,
skipping URLs processed by earlier crawls, until the crawl limit is met or no
links remain. Every fetched page becomes its own document.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := appInstance.ProcessOptions(flags.nodes, flags.relationships)
			if err != nil {
				return err
			}
			res, err := appInstance.Crawl(cmd.Context(), app.CrawlRequest{
				URLs:       args,
				MaxURLs:    maxURLs,
				MaxWorkers: maxWorkers,
				Options:    opts,
			})
			if werr := writeResult(cmd, root, res); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("run crawl: %w", err)
			}
			return nil
		},
	}
	addTypeFlags(cmd, &flags.nodes, &flags.relationships, &flags.model)
	cmd.Flags().IntVar(&maxURLs, "max-urls", 0, "maximum pages to process (default crawler.max_crawl_limit)")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "concurrent fetches per round (default crawler.max_workers)")
	return cmd
}
