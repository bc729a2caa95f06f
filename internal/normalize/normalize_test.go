package normalize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeease/scrapeease/internal/model"
)

func row(pairs ...string) model.Row {
	r := model.Row{Values: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Columns = append(r.Columns, pairs[i])
		r.Values[pairs[i]] = pairs[i+1]
	}
	return r
}

var strat = model.Strategy{Kind: model.KindTable, Selector: "table"}

func TestDataset_ColumnsFixedByFirstPage(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{row("name", "A", "price", "1")}},
		{Index: 1, Rows: []model.Row{row("price", "2", "name", "B", "extra", "x")}},
	}

	ds := Dataset("http://example.com", strat, pages, Options{})
	assert.Equal(t, []string{"name", "price"}, ds.Columns)
	require.Len(t, ds.Rows, 2)

	// Second page aligned by name; its extra column is dropped.
	assert.Equal(t, "B", ds.Rows[1]["name"])
	assert.Equal(t, "2", ds.Rows[1]["price"])
	_, hasExtra := ds.Rows[1]["extra"]
	assert.False(t, hasExtra)
}

func TestDataset_Idempotent(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{
			row("name", "  A  ", "price", "1"),
			row("name", "B", "price", "2"),
			row("name", "B", "price", "2"),
		}},
		{Index: 1, Rows: []model.Row{row("name", "C", "price", "3 ")}},
	}
	first := Dataset("http://example.com", strat, pages, Options{})

	// Feed the produced rows back in: the output must not change again.
	rows := make([]model.Row, 0, len(first.Rows))
	for _, r := range first.Rows {
		rows = append(rows, model.Row{Columns: first.Columns, Values: r})
	}
	second := Dataset("http://example.com", strat, []PageRows{{Index: 0, Rows: rows}}, Options{})

	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.ColumnTypes, second.ColumnTypes)
	assert.Equal(t, first.TotalRecords, second.TotalRecords)
}

func TestDataset_MissingColumnsPadded(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{row("name", "A", "price", "1")}},
		{Index: 1, Rows: []model.Row{row("name", "B")}},
	}

	ds := Dataset("http://example.com", strat, pages, Options{})
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "", ds.Rows[1]["price"])
}

func TestDataset_ZeroOverlapPageDropped(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{row("name", "A")}},
		{Index: 1, Rows: []model.Row{row("totally", "different")}},
	}

	ds := Dataset("http://example.com", strat, pages, Options{})
	assert.Len(t, ds.Rows, 1)
	require.NotEmpty(t, ds.Provenance.Warnings)
	assert.Contains(t, ds.Provenance.Warnings[0], "page 2")
}

func TestDataset_DuplicatesRemovedOrderPreserving(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{
			row("name", "A"),
			row("name", "B"),
			row("name", "A"),
		}},
		{Index: 1, Rows: []model.Row{row("name", "B"), row("name", "C")}},
	}

	ds := Dataset("http://example.com", strat, pages, Options{})
	require.Len(t, ds.Rows, 3)
	assert.Equal(t, "A", ds.Rows[0]["name"])
	assert.Equal(t, "B", ds.Rows[1]["name"])
	assert.Equal(t, "C", ds.Rows[2]["name"])
	assert.Equal(t, 3, ds.TotalRecords)
}

func TestDataset_MaxRowsCap(t *testing.T) {
	var rows []model.Row
	for i := 0; i < 20; i++ {
		rows = append(rows, row("n", fmt.Sprintf("%d", i)))
	}
	ds := Dataset("http://example.com", strat, []PageRows{{Index: 0, Rows: rows}}, Options{MaxRows: 5})

	assert.Len(t, ds.Rows, 5)
	require.NotEmpty(t, ds.Provenance.Warnings)
	assert.Contains(t, ds.Provenance.Warnings[0], "row cap")
}

func TestDataset_Provenance(t *testing.T) {
	pages := []PageRows{
		{Index: 0, Rows: []model.Row{row("name", "A")}},
		{Index: 1, Rows: []model.Row{row("name", "B")}},
	}
	ds := Dataset("http://example.com/list", strat, pages, Options{})

	assert.Equal(t, "http://example.com/list", ds.Provenance.SourceURL)
	assert.Equal(t, 2, ds.Provenance.PagesVisited)
	assert.Equal(t, strat, ds.Provenance.Strategy)
}

func TestDataset_Empty(t *testing.T) {
	ds := Dataset("http://example.com", strat, nil, Options{})
	assert.Empty(t, ds.Rows)
	assert.Zero(t, ds.TotalRecords)
	assert.Empty(t, ds.Columns)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "a b", Clean("  a\n\t b  "))
	assert.Equal(t, "bold text", Clean("<b>bold</b> text"))
	assert.Equal(t, "a & b", Clean("a &amp; b"))
	assert.Equal(t, "", Clean("   "))
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{"  a\n b ", "&lt;b&gt;x&lt;/b&gt;", "<i>y</i>", "plain"}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestDetectTypes(t *testing.T) {
	rows := []map[string]string{
		{"price": "$1,234.50", "name": "Widget", "product_url": "http://x", "created": "2024-01-01"},
		{"price": "99%", "name": "Gadget", "product_url": "http://y", "created": "2024-02-01"},
		{"price": "12", "name": "Sprocket", "product_url": "http://z", "created": "2024-03-01"},
	}
	types := detectTypes([]string{"price", "name", "product_url", "created"}, rows)

	assert.Equal(t, model.TypeNumeric, types["price"])
	assert.Equal(t, model.TypeString, types["name"])
	assert.Equal(t, model.TypeURL, types["product_url"])
	assert.Equal(t, model.TypeDatetime, types["created"])
}

func TestDetectTypes_NumericThreshold(t *testing.T) {
	// 4 of 5 numeric: exactly at the 80% threshold.
	atThreshold := []map[string]string{
		{"v": "1"}, {"v": "2"}, {"v": "3"}, {"v": "4"}, {"v": "n/a"},
	}
	types := detectTypes([]string{"v"}, atThreshold)
	assert.Equal(t, model.TypeNumeric, types["v"])

	// 3 of 5 numeric: below threshold.
	below := []map[string]string{
		{"v": "1"}, {"v": "2"}, {"v": "3"}, {"v": "x"}, {"v": "y"},
	}
	types = detectTypes([]string{"v"}, below)
	assert.Equal(t, model.TypeString, types["v"])
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, isNumeric("$1,234.50"))
	assert.True(t, isNumeric("42%"))
	assert.True(t, isNumeric("-3.5"))
	assert.True(t, isNumeric("€ 100"))
	assert.False(t, isNumeric("n/a"))
	assert.False(t, isNumeric(""))
	assert.False(t, isNumeric("$"))
}
