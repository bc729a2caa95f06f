package model

// Row is a single extracted record. Columns preserves the order cells were
// encountered in; Values maps column name to cell text.
type Row struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

// Get returns the value for a column, or the empty string when absent.
func (r Row) Get(col string) string {
	return r.Values[col]
}

// TypeTag is a coarse inferred type for a dataset column.
type TypeTag string

const (
	TypeString   TypeTag = "string"
	TypeNumeric  TypeTag = "numeric"
	TypeURL      TypeTag = "url"
	TypeDatetime TypeTag = "datetime"
)

// Provenance records where a dataset came from and how it was produced.
type Provenance struct {
	SourceURL    string   `json:"source_url"`
	PagesVisited int      `json:"pages_visited"`
	Strategy     Strategy `json:"strategy"`
	Warnings     []string `json:"warnings,omitempty"`
}

// NormalizedDataset is the final output of a scrape: a rectangular dataset
// with a fixed column sequence, inferred column types, and provenance.
type NormalizedDataset struct {
	Columns      []string            `json:"columns"`
	ColumnTypes  map[string]TypeTag  `json:"column_types"`
	Rows         []map[string]string `json:"rows"`
	TotalRecords int                 `json:"total_records"`
	Provenance   Provenance          `json:"provenance"`
}

// Preview returns up to n rows without copying cell maps.
func (d *NormalizedDataset) Preview(n int) []map[string]string {
	if n < 0 {
		n = 0
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return d.Rows[:n]
}
