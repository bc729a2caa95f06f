package model

// StrategyKind identifies the structural pattern an extraction strategy
// targets on a page.
type StrategyKind string

const (
	KindTable            StrategyKind = "table"
	KindListItems        StrategyKind = "list_items"
	KindRepeatedSections StrategyKind = "repeated_sections"
	KindCustomSelector   StrategyKind = "custom_selector"
)

// Valid reports whether the kind is one of the recognized strategy kinds.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindTable, KindListItems, KindRepeatedSections, KindCustomSelector:
		return true
	}
	return false
}

// FieldSelector maps a named output column to a sub-selector evaluated
// relative to each matched root element. When Attribute is set the value is
// read from that attribute instead of the element text.
type FieldSelector struct {
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

// Strategy describes one way to extract rows from a page: what kind of
// structure to target, where it lives, and how confident the analyzer is
// that it yields a coherent dataset.
type Strategy struct {
	Kind          StrategyKind             `json:"type"`
	Selector      string                   `json:"selector"`
	EstimatedRows int                      `json:"estimated_rows"`
	EstimatedCols int                      `json:"estimated_cols"`
	Confidence    float64                  `json:"confidence"`
	Fields        map[string]FieldSelector `json:"fields,omitempty"`
}

// Equal reports whether two strategies target the same structure. Confidence
// and estimates are advisory and do not participate.
func (s Strategy) Equal(other Strategy) bool {
	return s.Kind == other.Kind && s.Selector == other.Selector
}

// kindRank orders kinds for confidence tie-breaking, most structured first.
var kindRank = map[StrategyKind]int{
	KindTable:            0,
	KindRepeatedSections: 1,
	KindListItems:        2,
	KindCustomSelector:   3,
}

// Less orders strategies by descending confidence, breaking ties in favor of
// more structured kinds.
func (s Strategy) Less(other Strategy) bool {
	if s.Confidence != other.Confidence {
		return s.Confidence > other.Confidence
	}
	return kindRank[s.Kind] < kindRank[other.Kind]
}
