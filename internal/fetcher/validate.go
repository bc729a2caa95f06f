package fetcher

import "context"

// ValidationReport summarizes whether a page looks scrapable: counts of
// structures that could carry tabular data, plus the page title.
type ValidationReport struct {
	Valid            bool   `json:"valid"`
	Error            string `json:"error,omitempty"`
	TablesFound      int    `json:"tables_found"`
	ListsFound       int    `json:"lists_found"`
	StructuredDivs   int    `json:"structured_divs"`
	PotentialSources int    `json:"potential_sources"`
	Title            string `json:"title,omitempty"`
}

// Validate fetches the URL and reports whether it contains scrapable
// content. Fetch failures are folded into the report rather than returned:
// an unreachable page is a user-visible validation outcome.
func (c *Client) Validate(ctx context.Context, rawURL string) ValidationReport {
	doc, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return ValidationReport{Valid: false, Error: err.Error()}
	}

	tables := doc.Find("table").Length()
	lists := doc.Find("ul, ol").Length()
	divs := doc.Find("div[class]").Length()

	return ValidationReport{
		Valid:            true,
		TablesFound:      tables,
		ListsFound:       lists,
		StructuredDivs:   divs,
		PotentialSources: tables + lists + divs,
		Title:            doc.Title,
	}
}
