// Package normalize unifies rows gathered across paginated pages into a
// single dataset: one column sequence, cleaned cells, inferred column
// types, and exact duplicates removed.
package normalize

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/scrapeease/scrapeease/internal/model"
)

// PageRows is one crawled page's extraction output, in crawl order.
type PageRows struct {
	Index int
	Rows  []model.Row
}

// Options tunes normalization.
type Options struct {
	MaxRows int // cap on output rows; 0 means 10000
}

// Dataset builds the normalized dataset from per-page rows. The column set
// is fixed by the first non-empty page; later pages align by column name,
// pad missing columns with empty values, and are dropped with a warning
// when they share no columns at all. Exact-duplicate rows are removed,
// first occurrence kept. The operation is idempotent.
func Dataset(sourceURL string, strat model.Strategy, pages []PageRows, opts Options) *model.NormalizedDataset {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = 10000
	}

	var warnings []string
	columns := fixColumns(pages)

	colSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		colSet[c] = true
	}

	var rows []map[string]string
	seen := make(map[string]bool)
	capped := false

	for _, page := range pages {
		if len(page.Rows) == 0 {
			continue
		}
		if overlap(page.Rows, colSet) == 0 {
			warnings = append(warnings,
				fmt.Sprintf("page %d shares no columns with the dataset, dropped %d rows", page.Index+1, len(page.Rows)))
			continue
		}
		for _, raw := range page.Rows {
			if len(rows) >= maxRows {
				capped = true
				break
			}
			row := make(map[string]string, len(columns))
			for _, col := range columns {
				row[col] = Clean(raw.Get(col))
			}
			key := rowKey(columns, row)
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, row)
		}
	}

	if capped {
		warnings = append(warnings, fmt.Sprintf("row cap of %d reached, remaining rows dropped", maxRows))
	}

	return &model.NormalizedDataset{
		Columns:      columns,
		ColumnTypes:  detectTypes(columns, rows),
		Rows:         rows,
		TotalRecords: len(rows),
		Provenance: model.Provenance{
			SourceURL:    sourceURL,
			PagesVisited: len(pages),
			Strategy:     strat,
			Warnings:     warnings,
		},
	}
}

// fixColumns derives the column sequence from the first non-empty page:
// each row's columns merged in first-appearance order.
func fixColumns(pages []PageRows) []string {
	for _, page := range pages {
		if len(page.Rows) == 0 {
			continue
		}
		var columns []string
		seen := make(map[string]bool)
		for _, row := range page.Rows {
			for _, col := range row.Columns {
				if !seen[col] {
					seen[col] = true
					columns = append(columns, col)
				}
			}
		}
		return columns
	}
	return nil
}

func overlap(rows []model.Row, colSet map[string]bool) int {
	matched := make(map[string]bool)
	for _, row := range rows {
		for _, col := range row.Columns {
			if colSet[col] {
				matched[col] = true
			}
		}
	}
	return len(matched)
}

// rowKey joins cell values with an unprintable separator for exact-duplicate
// detection.
func rowKey(columns []string, row map[string]string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = row[col]
	}
	return strings.Join(parts, "\x1f")
}

var (
	tagResidueRe = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Clean trims a cell, collapses internal whitespace runs, and strips
// embedded markup residue. Applying Clean twice yields the same value.
func Clean(s string) string {
	s = html.UnescapeString(s)
	s = tagResidueRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
