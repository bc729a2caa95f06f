package crawl

import (
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/scrapeease/scrapeease/internal/fetcher"
)

// Heuristics is the ordered, config-driven set of next-page signals. Exact
// recognition varies per site, so the set is loadable from YAML rather than
// hard-coded.
type Heuristics struct {
	// AttributeSelectors are tried first, in order. Each must select the
	// next-page anchor (or an element containing one).
	AttributeSelectors []string `yaml:"attribute_selectors"`

	// TextPatterns match anchor text, lowercased and trimmed.
	TextPatterns []string `yaml:"text_patterns"`

	// QueryParams are page-counter parameters incremented when present on
	// the current URL and no link-based signal fired.
	QueryParams []string `yaml:"query_params"`
}

// DefaultHeuristics returns the common pagination patterns.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		AttributeSelectors: []string{
			`a[rel="next"]`,
			`link[rel="next"]`,
			".next a",
			"a.next",
			".pagination .next",
			"li.next a",
		},
		TextPatterns: []string{
			"next", "next page", "next »", "more", "older",
			"→", "»", ">",
		},
		QueryParams: []string{"page", "p", "pg", "paged", "offset"},
	}
}

// LoadHeuristics reads a heuristics set from a YAML file. Empty sections
// fall back to the defaults.
func LoadHeuristics(path string) (Heuristics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Heuristics{}, eris.Wrapf(err, "crawl: read heuristics file %s", path)
	}
	var h Heuristics
	if err := yaml.Unmarshal(data, &h); err != nil {
		return Heuristics{}, eris.Wrap(err, "crawl: parse heuristics file")
	}
	def := DefaultHeuristics()
	if len(h.AttributeSelectors) == 0 {
		h.AttributeSelectors = def.AttributeSelectors
	}
	if len(h.TextPatterns) == 0 {
		h.TextPatterns = def.TextPatterns
	}
	if len(h.QueryParams) == 0 {
		h.QueryParams = def.QueryParams
	}
	return h, nil
}

// NextURL finds the next-page URL for doc, or "" when no signal fires.
func (h Heuristics) NextURL(doc *fetcher.Document) string {
	if u := h.fromSelectors(doc); u != "" {
		return u
	}
	if u := h.fromAnchorText(doc); u != "" {
		return u
	}
	return h.fromQueryCounter(doc.URL)
}

func (h Heuristics) fromSelectors(doc *fetcher.Document) string {
	for _, sel := range h.AttributeSelectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		href, ok := el.Attr("href")
		if !ok {
			href, ok = el.Find("a[href]").First().Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		if resolved := doc.ResolveURL(href); resolved != "" && resolved != doc.URL {
			return resolved
		}
	}
	return ""
}

func (h Heuristics) fromAnchorText(doc *fetcher.Document) string {
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if text == "" {
			return true
		}
		for _, pattern := range h.TextPatterns {
			if text == pattern {
				if href, ok := a.Attr("href"); ok {
					if resolved := doc.ResolveURL(href); resolved != "" && resolved != doc.URL {
						found = resolved
						return false
					}
				}
			}
		}
		return true
	})
	return found
}

// fromQueryCounter increments a recognized page-counter query parameter
// already present on the current URL.
func (h Heuristics) fromQueryCounter(current string) string {
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, param := range h.QueryParams {
		val := q.Get(param)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		q.Set(param, strconv.Itoa(n+1))
		u.RawQuery = q.Encode()
		return u.String()
	}
	return ""
}
