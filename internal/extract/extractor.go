// Package extract pulls raw field values from the repeating elements a
// strategy locates. One malformed element never fails a page: it is
// skipped and counted.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
)

// ErrNoMatch reports that the strategy's selector matched zero elements on
// the page. The crawler treats this on follow-on pages as a graceful stop.
var ErrNoMatch = eris.New("extract: selector matched no elements")

// SourceURLColumn holds the first link found in each repeating element,
// resolved against the page URL.
const SourceURLColumn = "_source_url"

// Rows extracts the raw field values for each element matched by the
// strategy. Returns the rows, the count of malformed elements skipped, and
// ErrNoMatch when the selector finds nothing.
func Rows(doc *fetcher.Document, strat model.Strategy) ([]model.Row, int, error) {
	switch strat.Kind {
	case model.KindTable:
		return tableRows(doc, strat)
	case model.KindListItems, model.KindRepeatedSections:
		return itemRows(doc, strat)
	case model.KindCustomSelector:
		return customRows(doc, strat)
	default:
		return nil, 0, eris.Errorf("extract: unknown strategy kind %q", strat.Kind)
	}
}

func tableRows(doc *fetcher.Document, strat model.Strategy) ([]model.Row, int, error) {
	table := doc.Find(strat.Selector).First()
	if table.Length() == 0 {
		return nil, 0, ErrNoMatch
	}

	trs := table.Find("tr")
	if trs.Length() == 0 {
		return nil, 0, ErrNoMatch
	}

	var headers []string
	dataStart := 0
	first := trs.Eq(0)
	if headerLike(first) {
		first.Find("th, td").Each(func(i int, cell *goquery.Selection) {
			name := SanitizeColumn(cellText(cell))
			if name == "column" {
				name = fmt.Sprintf("column_%d", i+1)
			}
			headers = append(headers, name)
		})
		headers = dedupeNames(headers)
		dataStart = 1
	}

	var rows []model.Row
	skipped := 0
	trs.Each(func(i int, tr *goquery.Selection) {
		if i < dataStart {
			return
		}
		cells := tr.Find("th, td")
		if cells.Length() == 0 {
			skipped++
			return
		}

		row := model.Row{Values: make(map[string]string)}
		cells.Each(func(j int, cell *goquery.Selection) {
			name := fmt.Sprintf("column_%d", j+1)
			if j < len(headers) {
				name = headers[j]
			}
			row.Columns = append(row.Columns, name)
			row.Values[name] = cellText(cell)
		})
		attachSourceURL(doc, tr, &row)
		rows = append(rows, row)
	})

	return rows, skipped, nil
}

func itemRows(doc *fetcher.Document, strat model.Strategy) ([]model.Row, int, error) {
	items := doc.Find(strat.Selector)
	if items.Length() == 0 {
		return nil, 0, ErrNoMatch
	}

	plan := buildFieldPlan(items)

	var rows []model.Row
	skipped := 0
	items.Each(func(_ int, item *goquery.Selection) {
		row := model.Row{Values: make(map[string]string)}
		nonEmpty := 0
		leaves := leafElements(item)
		for _, field := range plan {
			val := field.extract(item, leaves)
			row.Columns = append(row.Columns, field.Name)
			row.Values[field.Name] = val
			if val != "" {
				nonEmpty++
			}
		}
		if nonEmpty == 0 {
			skipped++
			return
		}
		attachSourceURL(doc, item, &row)
		rows = append(rows, row)
	})

	return rows, skipped, nil
}

func customRows(doc *fetcher.Document, strat model.Strategy) ([]model.Row, int, error) {
	items := doc.Find(strat.Selector)
	if items.Length() == 0 {
		return nil, 0, ErrNoMatch
	}

	// Deterministic column order for caller-supplied field maps.
	var fieldNames []string
	for name := range strat.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	var rows []model.Row
	skipped := 0
	items.Each(func(_ int, item *goquery.Selection) {
		row := model.Row{Values: make(map[string]string)}

		if len(fieldNames) == 0 {
			text := cellText(item)
			if text == "" {
				skipped++
				return
			}
			row.Columns = append(row.Columns, "text")
			row.Values["text"] = text
		} else {
			nonEmpty := 0
			for _, name := range fieldNames {
				fs := strat.Fields[name]
				el := item.Find(fs.Selector).First()
				val := ""
				if el.Length() > 0 {
					if fs.Attribute != "" {
						val, _ = el.Attr(fs.Attribute)
					} else {
						val = cellText(el)
					}
				}
				row.Columns = append(row.Columns, name)
				row.Values[name] = val
				if val != "" {
					nonEmpty++
				}
			}
			if nonEmpty == 0 {
				skipped++
				return
			}
		}

		attachSourceURL(doc, item, &row)
		rows = append(rows, row)
	})

	return rows, skipped, nil
}

// headerLike reports whether a table row supplies column names: it carries
// <th> cells, or all its cells are non-empty, distinct, and non-numeric.
func headerLike(tr *goquery.Selection) bool {
	if tr.Find("th").Length() > 0 {
		return true
	}
	cells := tr.Find("td")
	if cells.Length() == 0 {
		return false
	}
	seen := make(map[string]bool)
	ok := true
	cells.Each(func(_ int, cell *goquery.Selection) {
		text := cellText(cell)
		if text == "" || seen[text] || numericRe.MatchString(text) {
			ok = false
		}
		seen[text] = true
	})
	return ok
}

var numericRe = regexp.MustCompile(`^[$€£]?\s*-?[\d,]+(\.\d+)?%?$`)

func attachSourceURL(doc *fetcher.Document, el *goquery.Selection, row *model.Row) {
	href, ok := el.Find("a[href]").First().Attr("href")
	if !ok {
		return
	}
	resolved := doc.ResolveURL(href)
	if resolved == "" {
		return
	}
	row.Columns = append(row.Columns, SourceURLColumn)
	row.Values[SourceURLColumn] = resolved
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// cellText returns the element's text with whitespace runs collapsed.
func cellText(sel *goquery.Selection) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(sel.Text(), " "))
}

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)
var underscoreRunRe = regexp.MustCompile(`_+`)

// SanitizeColumn normalizes a column name for CSV/JSON compatibility while
// preserving letter case. Empty results fall back to "column".
func SanitizeColumn(name string) string {
	name = nonAlnumRe.ReplaceAllString(name, "_")
	name = underscoreRunRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "column"
	}
	return name
}

// dedupeNames suffixes repeated column names so each stays addressable.
func dedupeNames(names []string) []string {
	seen := make(map[string]int)
	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] > 1 {
			n = fmt.Sprintf("%s_%d", n, seen[n])
		}
		out[i] = n
	}
	return out
}
