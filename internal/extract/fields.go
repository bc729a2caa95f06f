package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// field locates one column's value inside a matched repeating element.
// Fields found by a consistent class token select by class; the rest fall
// back to leaf position.
type field struct {
	Name     string
	ClassSel string // ".token" when a shared class token identifies the slot
	Index    int    // leaf position fallback
	Attr     string // attribute pull instead of text (e.g. img src)
}

func (f field) extract(item *goquery.Selection, leaves []*goquery.Selection) string {
	var el *goquery.Selection
	if f.ClassSel != "" {
		el = item.Find(f.ClassSel).First()
	}
	if el == nil || el.Length() == 0 {
		if f.Index >= len(leaves) {
			return ""
		}
		el = leaves[f.Index]
	}
	if f.Attr != "" {
		val, _ := el.Attr(f.Attr)
		return strings.TrimSpace(val)
	}
	return cellText(el)
}

// semanticNames maps tags whose role names a column better than a position.
var semanticNames = map[string]string{
	"h1": "title", "h2": "title", "h3": "title",
	"h4": "title", "h5": "title", "h6": "title",
	"time": "date",
	"img":  "image",
	"a":    "link",
}

// maxFields caps the synthesized column count per item.
const maxFields = 24

// buildFieldPlan synthesizes column names from the descendant patterns
// shared across matched elements: the first element's text-bearing leaves
// become the field slots, named by a class token shared across most items,
// then by semantic tag, then by position.
func buildFieldPlan(items *goquery.Selection) []field {
	first := items.Eq(0)
	leaves := leafElements(first)
	if len(leaves) > maxFields {
		leaves = leaves[:maxFields]
	}

	total := items.Length()
	used := make(map[string]int)

	var plan []field
	for i, leaf := range leaves {
		f := field{Index: i}
		tag := goquery.NodeName(leaf)
		if tag == "img" {
			f.Attr = "src"
		}

		if token := consensusClass(items, leaf, total); token != "" {
			f.ClassSel = "." + token
			f.Name = SanitizeColumn(token)
		} else if name, ok := semanticNames[tag]; ok {
			f.Name = name
		} else {
			f.Name = fmt.Sprintf("column_%d", i+1)
		}

		used[f.Name]++
		if used[f.Name] > 1 {
			f.Name = fmt.Sprintf("%s_%d", f.Name, used[f.Name])
		}
		plan = append(plan, f)
	}
	return plan
}

// consensusClass returns a class token of leaf present in at least 60% of
// the matched items, or "".
func consensusClass(items *goquery.Selection, leaf *goquery.Selection, total int) string {
	cls, _ := leaf.Attr("class")
	for _, token := range strings.Fields(cls) {
		count := 0
		items.Each(func(_ int, item *goquery.Selection) {
			if item.Find("."+token).Length() > 0 {
				count++
			}
		})
		if float64(count) >= 0.6*float64(total) {
			return token
		}
	}
	return ""
}

// leafElements returns the text- or media-bearing leaf descendants of el in
// document order. A childless element with text, or an img, counts as a leaf.
func leafElements(el *goquery.Selection) []*goquery.Selection {
	var leaves []*goquery.Selection
	el.Find("*").Each(func(_ int, d *goquery.Selection) {
		if d.Children().Length() > 0 {
			return
		}
		if goquery.NodeName(d) == "img" || strings.TrimSpace(d.Text()) != "" {
			leaves = append(leaves, d)
		}
	})
	if len(leaves) == 0 {
		leaves = append(leaves, el)
	}
	return leaves
}
