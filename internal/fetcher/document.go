// Package fetcher retrieves and parses remote HTML pages with timeout,
// retry, per-host rate limiting, and robots-exclusion checks.
package fetcher

import (
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Document is an immutable parsed representation of one fetched page.
type Document struct {
	URL       string
	FetchedAt time.Time
	Title     string

	doc *goquery.Document
}

// ParseDocument parses markup into a Document. Exposed so tests and the
// analyzer can build documents from fixture strings without a network fetch.
func ParseDocument(sourceURL string, r io.Reader) (*Document, error) {
	gd, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse document")
	}
	return &Document{
		URL:       sourceURL,
		FetchedAt: time.Now().UTC(),
		Title:     strings.TrimSpace(gd.Find("title").First().Text()),
		doc:       gd,
	}, nil
}

// Find runs a CSS selector query against the document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Selection returns the document root selection.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// ResolveURL resolves href against the document's URL. Returns "" when
// either side fails to parse.
func (d *Document) ResolveURL(href string) string {
	base, err := url.Parse(d.URL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
