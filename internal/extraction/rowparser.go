package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"dockhand/internal/types"
)

// ParseResult is the deterministic parser's output for one document.
type ParseResult struct {
	Lines     []types.LineItem
	Coverage  float64 // lines parsed / non-empty input lines
	LineCount int     // non-empty input lines
}

// unitVocabulary maps raw unit spellings onto the canonical set:
// ea, pcs, box, case, lbs, kg, g, ft, m, gal, L.
var unitVocabulary = map[string]string{
	"ea": "ea", "each": "ea", "unit": "ea", "units": "ea",
	"pc": "pcs", "pcs": "pcs", "piece": "pcs", "pieces": "pcs",
	"box": "box", "boxes": "box", "bx": "box",
	"case": "case", "cases": "case", "cs": "case",
	"lb": "lbs", "lbs": "lbs", "pound": "lbs", "pounds": "lbs",
	"kg": "kg", "kgs": "kg", "kilogram": "kg", "kilograms": "kg",
	"g": "g", "gram": "g", "grams": "g",
	"ft": "ft", "feet": "ft", "foot": "ft",
	"m": "m", "meter": "m", "meters": "m", "metre": "m", "metres": "m",
	"gal": "gal", "gallon": "gal", "gallons": "gal",
	"l": "L", "liter": "L", "liters": "L", "litre": "L", "litres": "L",
}

const unitAlt = `ea|each|units?|pcs?|pieces?|boxe?s?|bx|cases?|cs|lbs?|pounds?|kgs?|kilograms?|g|grams?|ft|feet|foot|m|meters?|metres?|gal|gallons?|l|liters?|litres?`

var (
	qtyPat  = `(\d+(?:[.,]\d+)?)`
	partPat = `([A-Za-z0-9][A-Za-z0-9\-./]{2,})`

	// The six row patterns, tried in order; first match wins.
	rowPatterns = []*struct {
		re    *regexp.Regexp
		build func(m []string) rawRow
	}{
		{ // <qty> <unit> <desc> <part#>, tail-anchored part number
			re: regexp.MustCompile(`(?i)^` + qtyPat + `\s+(` + unitAlt + `)\s+(.+?)\s+` + partPat + `$`),
			build: func(m []string) rawRow {
				return rawRow{qty: m[1], unit: m[2], desc: m[3], part: m[4]}
			},
		},
		{ // <part#> - <desc> (<qty> <unit>)
			re: regexp.MustCompile(`(?i)^` + partPat + `\s*-\s*(.+?)\s*\(` + qtyPat + `\s+(` + unitAlt + `)\)$`),
			build: func(m []string) rawRow {
				return rawRow{part: m[1], desc: m[2], qty: m[3], unit: m[4]}
			},
		},
		{ // <qty> <desc> <part#>, unit inferred as ea
			re: regexp.MustCompile(`(?i)^` + qtyPat + `\s+(.+?)\s+` + partPat + `$`),
			build: func(m []string) rawRow {
				return rawRow{qty: m[1], desc: m[2], part: m[3], unit: "ea"}
			},
		},
		{ // <desc> - <qty> <unit>  or  <desc>: <qty> <unit>
			re: regexp.MustCompile(`(?i)^(.+?)\s*[-:]\s*` + qtyPat + `\s+(` + unitAlt + `)$`),
			build: func(m []string) rawRow {
				return rawRow{desc: m[1], qty: m[2], unit: m[3]}
			},
		},
		{ // tabular: qty  unit  desc  part separated by 2+ spaces
			re: regexp.MustCompile(`(?i)^` + qtyPat + `\s{2,}(` + unitAlt + `)\s{2,}(.+?)\s{2,}` + partPat + `$`),
			build: func(m []string) rawRow {
				return rawRow{qty: m[1], unit: m[2], desc: m[3], part: m[4]}
			},
		},
		{ // minimal: <qty> <desc>
			re: regexp.MustCompile(`(?i)^` + qtyPat + `\s+(.{5,})$`),
			build: func(m []string) rawRow {
				return rawRow{qty: m[1], desc: m[2]}
			},
		},
	}

	headerKeywords = []string{
		"packing slip", "packing list", "invoice", "purchase order",
		"qty", "quantity", "description", "part number", "item",
		"date", "page", "total", "subtotal", "ship to", "bill to",
		"order number", "tracking", "thank you", "continued",
	}

	whitespaceRe   = regexp.MustCompile(`\s+`)
	trailingPunct  = regexp.MustCompile(`[.,;:\-\s]+$`)
	allCapsAcronym = regexp.MustCompile(`^[A-Z0-9\-/]{2,}$`)
)

type rawRow struct {
	qty, unit, desc, part string
}

// ParseRows runs the ordered pattern family over every non-header line.
func ParseRows(text string) ParseResult {
	var result ParseResult
	seq := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		result.LineCount++

		if isHeaderOrFooter(trimmed) {
			continue
		}

		for _, p := range rowPatterns {
			m := p.re.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			item, ok := normalizeRow(p.build(m), trimmed)
			if !ok {
				break // matched but invalid; later patterns would be looser
			}
			seq++
			item.Sequence = seq
			result.Lines = append(result.Lines, item)
			break
		}
	}

	if result.LineCount > 0 {
		result.Coverage = float64(len(result.Lines)) / float64(result.LineCount)
	}
	return result
}

func isHeaderOrFooter(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range headerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// normalizeRow validates and canonicalizes one matched row.
func normalizeRow(r rawRow, raw string) (types.LineItem, bool) {
	qty, err := strconv.ParseFloat(strings.ReplaceAll(r.qty, ",", "."), 64)
	if err != nil || qty <= 0 {
		return types.LineItem{}, false
	}

	desc := NormalizeDescription(r.desc)
	if len(desc) < 5 || len(desc) > 500 {
		return types.LineItem{}, false
	}

	unit := ""
	if r.unit != "" {
		unit = NormalizeUnit(r.unit)
	}

	part := strings.ToUpper(strings.TrimSpace(r.part))
	// A bare number in the part slot is almost always a quantity or price
	// column bleeding through; drop it rather than suggest a bogus part.
	if part != "" && regexp.MustCompile(`^\d+([.,]\d+)?$`).MatchString(part) {
		part = ""
	}

	item := types.LineItem{
		Quantity:    qty,
		Unit:        unit,
		Description: desc,
		PartNumber:  part,
		Source:      "regex",
		RawText:     raw,
	}
	item.Confidence = scoreLine(item)
	return item, true
}

// NormalizeUnit lowercases and maps a unit through the canonical vocabulary.
// Unknown units collapse to "ea".
func NormalizeUnit(unit string) string {
	if canonical, ok := unitVocabulary[strings.ToLower(strings.TrimSpace(unit))]; ok {
		return canonical
	}
	return "ea"
}

// NormalizeDescription collapses whitespace, strips trailing punctuation, and
// title-cases words while preserving all-caps acronyms and part-like tokens.
func NormalizeDescription(desc string) string {
	desc = whitespaceRe.ReplaceAllString(strings.TrimSpace(desc), " ")
	desc = trailingPunct.ReplaceAllString(desc, "")

	words := strings.Fields(desc)
	for i, w := range words {
		if allCapsAcronym.MatchString(w) {
			continue // MTU, ABS, OEM-style tokens stay as printed
		}
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

// scoreLine buckets confidence by field completeness: high when quantity,
// unit, description, and part number are all present; medium for any three;
// low otherwise.
func scoreLine(item types.LineItem) types.LineConfidence {
	fields := 0
	if item.Quantity > 0 {
		fields++
	}
	if item.Unit != "" {
		fields++
	}
	if item.Description != "" {
		fields++
	}
	if item.PartNumber != "" {
		fields++
	}
	switch {
	case fields == 4:
		return types.ConfidenceHigh
	case fields == 3:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}
