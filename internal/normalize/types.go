package normalize

import (
	"strconv"
	"strings"

	"github.com/scrapeease/scrapeease/internal/model"
)

// numericThreshold is the fraction of non-empty values that must parse as
// numbers for a column to be tagged numeric.
const numericThreshold = 0.8

var urlNameHints = []string{"url", "link", "href"}
var dateNameHints = []string{"date", "time", "created", "updated"}

// detectTypes tags each column with a best-effort type. Values are never
// converted: the tag is advisory for downstream consumers.
func detectTypes(columns []string, rows []map[string]string) map[string]model.TypeTag {
	types := make(map[string]model.TypeTag, len(columns))
	for _, col := range columns {
		types[col] = detectColumn(col, rows)
	}
	return types
}

func detectColumn(col string, rows []map[string]string) model.TypeTag {
	lower := strings.ToLower(col)
	for _, hint := range urlNameHints {
		if strings.Contains(lower, hint) {
			return model.TypeURL
		}
	}
	for _, hint := range dateNameHints {
		if strings.Contains(lower, hint) {
			return model.TypeDatetime
		}
	}

	nonEmpty, numeric := 0, 0
	for _, row := range rows {
		val := row[col]
		if val == "" {
			continue
		}
		nonEmpty++
		if isNumeric(val) {
			numeric++
		}
	}
	if nonEmpty > 0 && float64(numeric) >= numericThreshold*float64(nonEmpty) {
		return model.TypeNumeric
	}
	return model.TypeString
}

var currencyStripper = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", "%", "", " ", "")

// isNumeric reports whether a cleaned cell parses as a number once common
// currency symbols, separators, and percent signs are stripped.
func isNumeric(val string) bool {
	stripped := currencyStripper.Replace(val)
	if stripped == "" {
		return false
	}
	_, err := strconv.ParseFloat(stripped, 64)
	return err == nil
}
