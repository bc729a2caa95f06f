// Package analyze inspects a parsed document and proposes extraction
// strategies ranked by confidence. Scoring is purely structural: sibling
// counts, attribute-shape consistency, and child-structure similarity.
// Content semantics never influence a score.
package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
)

// minRepeats is the smallest sibling group treated as repeating structure.
const minRepeats = 3

// Analyze proposes extraction strategies for doc, ordered by descending
// confidence. An empty result means no repeating structure was found.
func Analyze(doc *fetcher.Document) []model.Strategy {
	var out []model.Strategy
	out = append(out, tableStrategies(doc)...)
	out = append(out, listItemStrategies(doc)...)
	out = append(out, repeatedSectionStrategies(doc)...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})
	return out
}

// tableStrategies scores every <table> holding at least two rows by header
// presence, cell-count consistency, and row count.
func tableStrategies(doc *fetcher.Document) []model.Strategy {
	var out []model.Strategy
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		n := rows.Length()
		if n < 2 {
			return
		}

		hasHeader := rows.First().Find("th").Length() > 0

		// Consistency: fraction of rows carrying the modal cell count.
		counts := make(map[int]int)
		rows.Each(func(_ int, tr *goquery.Selection) {
			counts[tr.Find("th, td").Length()]++
		})
		modalCount, modalFreq := 0, 0
		for c, freq := range counts {
			if freq > modalFreq || (freq == modalFreq && c > modalCount) {
				modalCount, modalFreq = c, freq
			}
		}
		consistency := float64(modalFreq) / float64(n)

		conf := 0.45 + 0.30*consistency + 0.05*minF(1, float64(n)/10)
		if hasHeader {
			conf += 0.20
		}

		out = append(out, model.Strategy{
			Kind:          model.KindTable,
			Selector:      selectorPath(table),
			EstimatedRows: n - 1,
			EstimatedCols: modalCount,
			Confidence:    clamp01(conf),
		})
	})
	return out
}

// skipParents are elements whose children are covered by other strategy
// families or carry no tabular signal.
var skipParents = map[string]bool{
	"table": true, "thead": true, "tbody": true, "tfoot": true, "tr": true,
	"head": true, "script": true, "style": true, "select": true,
	"nav": true, "footer": true,
}

// listItemStrategies finds grouping elements whose children share a tag
// name and a similar attribute shape.
func listItemStrategies(doc *fetcher.Document) []model.Strategy {
	var out []model.Strategy
	doc.Find("ul, ol, div, section, main").Each(func(_ int, parent *goquery.Selection) {
		tag := goquery.NodeName(parent)
		if skipParents[tag] {
			return
		}

		children := parent.Children()
		if children.Length() < minRepeats {
			return
		}

		// Largest same-tag child group.
		byTag := make(map[string][]*goquery.Selection)
		children.Each(func(_ int, ch *goquery.Selection) {
			t := goquery.NodeName(ch)
			byTag[t] = append(byTag[t], ch)
		})
		var groupTag string
		var group []*goquery.Selection
		for t, g := range byTag {
			if t == "br" || t == "hr" || len(g) <= len(group) {
				continue
			}
			groupTag, group = t, g
		}
		if len(group) < minRepeats || skipParents[groupTag] {
			return
		}

		consistency := classShapeConsistency(group)

		conf := 0.35 + 0.25*consistency + 0.20*minF(1, float64(len(group))/10)
		if conf > 0.80 {
			conf = 0.80
		}

		selector := selectorPath(parent) + " > " + groupTag
		out = append(out, model.Strategy{
			Kind:          model.KindListItems,
			Selector:      selector,
			EstimatedRows: len(group),
			EstimatedCols: leafCount(group[0]),
			Confidence:    clamp01(conf),
		})
	})
	return out
}

// repeatedSectionStrategies finds any parent whose children recur with
// near-identical internal structure, even without list semantics.
func repeatedSectionStrategies(doc *fetcher.Document) []model.Strategy {
	var out []model.Strategy
	doc.Find("div, section, main, article").Each(func(_ int, parent *goquery.Selection) {
		if skipParents[goquery.NodeName(parent)] {
			return
		}

		// Group children by tag + sorted class shape.
		groups := make(map[string][]*goquery.Selection)
		parent.Children().Each(func(_ int, ch *goquery.Selection) {
			key := shapeKey(ch)
			groups[key] = append(groups[key], ch)
		})

		for _, group := range groups {
			if len(group) < minRepeats {
				continue
			}
			tag := goquery.NodeName(group[0])
			if skipParents[tag] || tag == "li" {
				continue
			}

			similarity := structuralSimilarity(group)
			if similarity < 0.5 {
				continue
			}

			conf := 0.30 + 0.35*similarity + 0.20*minF(1, float64(len(group))/10)
			if conf > 0.85 {
				conf = 0.85
			}

			selector := selectorPath(parent) + " > " + tag
			if classes := classTokens(group[0]); len(classes) > 0 {
				selector += "." + strings.Join(classes, ".")
			}
			out = append(out, model.Strategy{
				Kind:          model.KindRepeatedSections,
				Selector:      selector,
				EstimatedRows: len(group),
				EstimatedCols: leafCount(group[0]),
				Confidence:    clamp01(conf),
			})
		}
	})
	return out
}

// classShapeConsistency is the fraction of elements sharing the group's
// modal class shape.
func classShapeConsistency(group []*goquery.Selection) float64 {
	shapes := make(map[string]int)
	for _, el := range group {
		shapes[strings.Join(classTokens(el), " ")]++
	}
	modal := 0
	for _, freq := range shapes {
		if freq > modal {
			modal = freq
		}
	}
	return float64(modal) / float64(len(group))
}

// structuralSimilarity averages the tag-sequence similarity between the
// first element and every other element of the group.
func structuralSimilarity(group []*goquery.Selection) float64 {
	base := tagSequence(group[0])
	if len(group) == 1 {
		return 1
	}
	var total float64
	for _, el := range group[1:] {
		total += sequenceSimilarity(base, tagSequence(el))
	}
	return total / float64(len(group)-1)
}

// classTokens returns the sorted class attribute tokens of an element.
func classTokens(sel *goquery.Selection) []string {
	cls, _ := sel.Attr("class")
	tokens := strings.Fields(cls)
	sort.Strings(tokens)
	return tokens
}

func shapeKey(sel *goquery.Selection) string {
	return goquery.NodeName(sel) + "." + strings.Join(classTokens(sel), ".")
}

// selectorPath builds a structural selector for sel: a chain of
// tag:nth-of-type segments from just below <body> down to the element.
func selectorPath(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	var segments []string
	for node := sel.Nodes[0]; node != nil && node.Type == html.ElementNode; node = parentElement(node) {
		if node.Data == "body" || node.Data == "html" {
			break
		}
		segments = append([]string{fmt.Sprintf("%s:nth-of-type(%d)", node.Data, nthOfType(node))}, segments...)
	}
	return strings.Join(segments, " > ")
}

func parentElement(node *html.Node) *html.Node {
	for p := node.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// nthOfType counts the 1-based position of node among same-tag element
// siblings.
func nthOfType(node *html.Node) int {
	n := 1
	for sib := node.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == node.Data {
			n++
		}
	}
	return n
}

// tagSequence returns the simplified preorder descendant tag sequence of an
// element, capped to keep distance computation cheap.
func tagSequence(sel *goquery.Selection) []string {
	const capLen = 40
	var seq []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && len(seq) < capLen; c = c.NextSibling {
			if c.Type == html.ElementNode {
				seq = append(seq, c.Data)
				walk(c)
			}
		}
	}
	if len(sel.Nodes) > 0 {
		walk(sel.Nodes[0])
	}
	return seq
}

// leafCount counts the text-bearing leaf elements under el, an estimate of
// how many columns extraction will produce.
func leafCount(el *goquery.Selection) int {
	n := 0
	el.Find("*").Each(func(_ int, d *goquery.Selection) {
		if d.Children().Length() == 0 && strings.TrimSpace(d.Text()) != "" {
			n++
		}
	})
	if n == 0 && strings.TrimSpace(el.Text()) != "" {
		n = 1
	}
	return n
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
