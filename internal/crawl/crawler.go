// Package crawl walks paginated result pages, applying an extraction
// strategy to each page. Crawling is sequential per job: every page depends
// on the previous page's next-link.
package crawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scrapeease/scrapeease/internal/extract"
	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
)

// ErrBudgetExceeded reports that the whole-crawl wall-clock budget ran out.
// Pages gathered before the budget expired remain valid.
var ErrBudgetExceeded = eris.New("crawl: wall-clock budget exceeded")

// Crawler produces page iterators bound to a fetch client and a heuristics set.
type Crawler struct {
	client *fetcher.Client
	heur   Heuristics
	budget time.Duration
}

// New creates a Crawler. A zero budget means five minutes.
func New(client *fetcher.Client, heur Heuristics, budget time.Duration) *Crawler {
	if budget == 0 {
		budget = 5 * time.Minute
	}
	return &Crawler{client: client, heur: heur, budget: budget}
}

// Page is one crawled page's extraction output.
type Page struct {
	Index   int // 0-based page position in the crawl
	Doc     *fetcher.Document
	Rows    []model.Row
	Skipped int // malformed elements skipped on this page
}

// Iter is a lazy, finite, single-use sequence of pages. Each Next call may
// perform a fresh network fetch; the sequence is not restartable.
type Iter struct {
	crawler  *Crawler
	strat    model.Strategy
	maxPages int

	current  *fetcher.Document // pre-fetched page awaiting extraction
	nextURL  string
	visited  map[string]bool
	count    int
	deadline time.Time
	done     bool
	warnings []string
}

// Start returns an iterator over pages, beginning with the already-fetched
// first document so the detection fetch is not repeated.
func (c *Crawler) Start(first *fetcher.Document, strat model.Strategy, maxPages int) *Iter {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Iter{
		crawler:  c,
		strat:    strat,
		maxPages: maxPages,
		current:  first,
		visited:  map[string]bool{first.URL: true},
		deadline: time.Now().Add(c.budget),
	}
}

// Next yields the next page, or (nil, nil) when the crawl is exhausted.
// Errors on the first page are fatal to the crawl; the controller decides
// whether errors after a successful page leave a usable partial result.
func (it *Iter) Next(ctx context.Context) (*Page, error) {
	if it.done || it.count >= it.maxPages {
		it.done = true
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		it.done = true
		return nil, err
	}
	if time.Now().After(it.deadline) {
		it.done = true
		return nil, ErrBudgetExceeded
	}

	doc := it.current
	it.current = nil
	if doc == nil {
		if it.nextURL == "" {
			it.done = true
			return nil, nil
		}
		var err error
		doc, err = it.crawler.client.Fetch(ctx, it.nextURL)
		if err != nil {
			it.done = true
			return nil, eris.Wrapf(err, "crawl: fetch page %d", it.count+1)
		}
	}

	rows, skipped, err := extract.Rows(doc, it.strat)
	if err != nil {
		if eris.Is(err, extract.ErrNoMatch) && it.count > 0 {
			// Structure diverged on a follow-on page: stop gracefully with
			// the pages gathered so far.
			it.warn("page %d no longer matches the strategy selector, stopping crawl", it.count+1)
			it.done = true
			return nil, nil
		}
		it.done = true
		return nil, err
	}

	page := &Page{Index: it.count, Doc: doc, Rows: rows, Skipped: skipped}
	it.count++

	it.nextURL = it.crawler.heur.NextURL(doc)
	if it.nextURL != "" {
		if it.visited[it.nextURL] {
			// Cycle guard.
			it.nextURL = ""
		} else {
			it.visited[it.nextURL] = true
		}
	}

	zap.L().Debug("crawled page",
		zap.Int("page", page.Index+1),
		zap.String("url", doc.URL),
		zap.Int("rows", len(rows)),
		zap.Int("skipped", skipped),
		zap.String("next", it.nextURL),
	)
	return page, nil
}

// Warnings returns non-fatal conditions recorded during iteration.
func (it *Iter) Warnings() []string {
	return it.warnings
}

func (it *Iter) warn(format string, args ...any) {
	it.warnings = append(it.warnings, eris.Errorf(format, args...).Error())
}
