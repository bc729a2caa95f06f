package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeease/scrapeease/internal/analyze"
	"github.com/scrapeease/scrapeease/internal/crawl"
	"github.com/scrapeease/scrapeease/internal/export"
	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
	"github.com/scrapeease/scrapeease/internal/normalize"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape a URL synchronously and export the dataset",
	Long: `Fetches the page, detects the best extraction strategy, follows
pagination up to --max-pages, and writes the normalized dataset to the
export directory.

Use --selector to force a CSS selector instead of automatic detection.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rawURL := args[0]
		log := zap.L().With(zap.String("command", "scrape"))

		maxPages, _ := cmd.Flags().GetInt("max-pages")
		selector, _ := cmd.Flags().GetString("selector")
		if maxPages <= 0 || maxPages > cfg.Crawl.MaxPages {
			maxPages = cfg.Crawl.MaxPages
		}

		if _, err := fetcher.ValidateURL(rawURL); err != nil {
			return err
		}

		client := fetcher.FromConfig(cfg.Fetch)
		if err := client.CheckRobots(ctx, rawURL); err != nil {
			return err
		}

		doc, err := client.Fetch(ctx, rawURL)
		if err != nil {
			return err
		}

		var strat model.Strategy
		if selector != "" {
			if doc.Find(selector).Length() == 0 {
				return eris.Errorf("selector %q matches no elements", selector)
			}
			strat = model.Strategy{
				Kind:       model.KindCustomSelector,
				Selector:   selector,
				Confidence: 1.0,
			}
		} else {
			candidates := analyze.Analyze(doc)
			if len(candidates) == 0 {
				return eris.New("no tabular structure detected on the page")
			}
			strat = candidates[0]
			log.Info("strategy selected",
				zap.String("kind", string(strat.Kind)),
				zap.String("selector", strat.Selector),
				zap.Float64("confidence", strat.Confidence),
			)
		}

		heur, err := loadHeuristics()
		if err != nil {
			return err
		}
		crawler := crawl.New(client, heur, time.Duration(cfg.Crawl.BudgetSecs)*time.Second)

		iter := crawler.Start(doc, strat, maxPages)
		var pages []normalize.PageRows
		for {
			page, err := iter.Next(ctx)
			if err != nil {
				if len(pages) == 0 {
					return err
				}
				log.Warn("crawl stopped early", zap.Error(err))
				break
			}
			if page == nil {
				break
			}
			pages = append(pages, normalize.PageRows{Index: page.Index, Rows: page.Rows})
		}

		dataset := normalize.Dataset(rawURL, strat, pages, normalize.Options{MaxRows: cfg.Normalize.MaxRows})

		writer, err := export.NewWriter(cfg.Export)
		if err != nil {
			return err
		}
		files, err := writer.WriteAll(ctx, time.Now().UTC().Format("20060102150405"), dataset)
		if err != nil {
			return err
		}

		fmt.Printf("Scraped %d records across %d pages (%d columns)\n",
			dataset.TotalRecords, len(pages), len(dataset.Columns))
		for format, path := range files {
			fmt.Printf("  %s: %s\n", format, path)
		}
		for _, warning := range dataset.Provenance.Warnings {
			fmt.Printf("  warning: %s\n", warning)
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().Int("max-pages", 0, "maximum pages to crawl (default from config)")
	scrapeCmd.Flags().String("selector", "", "CSS selector override, skips detection")
	rootCmd.AddCommand(scrapeCmd)
}
