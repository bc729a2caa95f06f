package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
)

func parse(t *testing.T, body string) *fetcher.Document {
	t.Helper()
	doc, err := fetcher.ParseDocument("http://example.com/products",
		strings.NewReader("<html><body>"+body+"</body></html>"))
	require.NoError(t, err)
	return doc
}

func TestRows_TableWithHeader(t *testing.T) {
	doc := parse(t, `
<table>
  <tr><th>Name</th><th>Price</th></tr>
  <tr><td><a href="/widget">Widget</a></td><td>$10</td></tr>
  <tr><td>Gadget</td><td>$20</td></tr>
</table>`)

	rows, skipped, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, rows, 2)

	assert.Equal(t, "Widget", rows[0].Get("Name"))
	assert.Equal(t, "$10", rows[0].Get("Price"))
	assert.Equal(t, "Gadget", rows[1].Get("Name"))

	// First anchor resolves against the page URL.
	assert.Equal(t, "http://example.com/widget", rows[0].Get(SourceURLColumn))
	assert.Empty(t, rows[1].Get(SourceURLColumn))
}

func TestRows_TableWithoutHeader(t *testing.T) {
	doc := parse(t, `
<table>
  <tr><td>10</td><td>20</td></tr>
  <tr><td>30</td><td>40</td></tr>
</table>`)

	rows, _, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	require.NoError(t, err)
	// Numeric first row is data, not a header.
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"column_1", "column_2"}, rows[0].Columns)
	assert.Equal(t, "10", rows[0].Get("column_1"))
}

func TestRows_TableSkipsEmptyRows(t *testing.T) {
	doc := parse(t, `
<table>
  <tr><th>A</th></tr>
  <tr><td>1</td></tr>
  <tr></tr>
  <tr><td>2</td></tr>
</table>`)

	rows, skipped, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, rows, 2)
}

func TestRows_TableOverflowCells(t *testing.T) {
	doc := parse(t, `
<table>
  <tr><th>A</th><th>B</th></tr>
  <tr><td>1</td><td>2</td><td>3</td></tr>
</table>`)

	rows, _, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].Get("column_3"))
}

func TestRows_TableDuplicateHeaders(t *testing.T) {
	doc := parse(t, `
<table>
  <tr><th>Name</th><th>Name</th></tr>
  <tr><td>a</td><td>b</td></tr>
</table>`)

	rows, _, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Get("Name"))
	assert.Equal(t, "b", rows[0].Get("Name_2"))
}

func TestRows_ListItemsWithClassFields(t *testing.T) {
	doc := parse(t, `
<ul>
  <li><span class="name">Widget</span><span class="price">$10</span></li>
  <li><span class="name">Gadget</span><span class="price">$20</span></li>
  <li><span class="name">Sprocket</span><span class="price">$30</span></li>
</ul>`)

	rows, skipped, err := Rows(doc, model.Strategy{Kind: model.KindListItems, Selector: "ul > li"})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, rows, 3)

	assert.Equal(t, "Widget", rows[0].Get("name"))
	assert.Equal(t, "$20", rows[1].Get("price"))
}

func TestRows_ListItemsSkipsEmptyElements(t *testing.T) {
	doc := parse(t, `
<ul>
  <li><span class="name">A</span></li>
  <li><span class="other">   </span></li>
  <li><span class="name">B</span></li>
</ul>`)

	rows, skipped, err := Rows(doc, model.Strategy{Kind: model.KindListItems, Selector: "ul > li"})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, rows, 2)
}

func TestRows_RepeatedSectionsSemanticNames(t *testing.T) {
	doc := parse(t, `
<div class="grid">
  <div class="card"><h2>First</h2><time>2024-01-01</time></div>
  <div class="card"><h2>Second</h2><time>2024-02-01</time></div>
  <div class="card"><h2>Third</h2><time>2024-03-01</time></div>
</div>`)

	rows, _, err := Rows(doc, model.Strategy{Kind: model.KindRepeatedSections, Selector: "div.grid > div.card"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "First", rows[0].Get("title"))
	assert.Equal(t, "2024-02-01", rows[1].Get("date"))
}

func TestRows_CustomSelectorWithFields(t *testing.T) {
	doc := parse(t, `
<div class="product"><span class="n">Widget</span><a href="/w">buy</a></div>
<div class="product"><span class="n">Gadget</span><a href="/g">buy</a></div>`)

	strat := model.Strategy{
		Kind:     model.KindCustomSelector,
		Selector: "div.product",
		Fields: map[string]model.FieldSelector{
			"name": {Selector: ".n"},
			"href": {Selector: "a", Attribute: "href"},
		},
	}
	rows, _, err := Rows(doc, strat)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Widget", rows[0].Get("name"))
	assert.Equal(t, "/g", rows[1].Get("href"))
}

func TestRows_CustomSelectorWithoutFields(t *testing.T) {
	doc := parse(t, `<p class="q">Hello   world</p><p class="q">Bye</p>`)

	rows, _, err := Rows(doc, model.Strategy{Kind: model.KindCustomSelector, Selector: "p.q"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Hello world", rows[0].Get("text"))
}

func TestRows_NoMatch(t *testing.T) {
	doc := parse(t, `<p>nothing here</p>`)
	_, _, err := Rows(doc, model.Strategy{Kind: model.KindTable, Selector: "table"})
	assert.ErrorIs(t, err, ErrNoMatch)

	_, _, err = Rows(doc, model.Strategy{Kind: model.KindCustomSelector, Selector: ".absent"})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestRows_UnknownKind(t *testing.T) {
	doc := parse(t, `<p>x</p>`)
	_, _, err := Rows(doc, model.Strategy{Kind: "bogus", Selector: "p"})
	assert.Error(t, err)
}

func TestSanitizeColumn(t *testing.T) {
	assert.Equal(t, "Unit_Price_USD", SanitizeColumn("Unit Price (USD)"))
	assert.Equal(t, "name", SanitizeColumn("name"))
	assert.Equal(t, "a_b", SanitizeColumn("a---b"))
	assert.Equal(t, "column", SanitizeColumn("!!!"))
	assert.Equal(t, "column", SanitizeColumn(""))
}

func TestHeaderLike(t *testing.T) {
	th := parse(t, `<table><tr><th>A</th></tr></table>`).Find("tr").First()
	assert.True(t, headerLike(th))

	numeric := parse(t, `<table><tr><td>$1,234.50</td><td>42%</td></tr></table>`).Find("tr").First()
	assert.False(t, headerLike(numeric))

	words := parse(t, `<table><tr><td>Name</td><td>Price</td></tr></table>`).Find("tr").First()
	assert.True(t, headerLike(words))

	dupes := parse(t, `<table><tr><td>Name</td><td>Name</td></tr></table>`).Find("tr").First()
	assert.False(t, headerLike(dupes))
}
