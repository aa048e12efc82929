package extraction

import (
	"sort"
	"strings"
	"unicode"

	"dockhand/internal/types"
)

const (
	rowTolerancePx    = 20
	columnTolerancePx = 50
	minTableRows      = 3
	minTableColumns   = 2
)

// TableDetection reports whether the document carries tabular line items.
type TableDetection struct {
	IsTable    bool    `json:"is_table"`
	Confidence float64 `json:"confidence"`
	Rows       int     `json:"rows"`
	Columns    int     `json:"columns"`
	Strategy   string  `json:"strategy"` // "bbox" or "text"
}

// DetectTable prefers the bounding-box strategy when fragments are present
// and falls back to text heuristics otherwise.
func DetectTable(result *types.OCRResult) TableDetection {
	if len(result.Fragments) > 0 {
		if d := detectByBoxes(result.Fragments); d.IsTable {
			return d
		}
	}
	return detectByText(result.Text)
}

// detectByBoxes groups fragments into rows by top-coordinate proximity and
// finds columns by clustering left coordinates. A table needs at least three
// rows and two columns. Confidence is the fraction of rows with a fragment
// aligned to some column, plus a small bonus per column.
func detectByBoxes(fragments []types.OCRFragment) TableDetection {
	sorted := make([]types.OCRFragment, len(fragments))
	copy(sorted, fragments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Y1 < sorted[j].Y1 })

	var rows [][]types.OCRFragment
	for _, f := range sorted {
		placed := false
		if n := len(rows); n > 0 {
			last := rows[n-1]
			if abs(f.Y1-last[0].Y1) <= rowTolerancePx {
				rows[n-1] = append(last, f)
				placed = true
			}
		}
		if !placed {
			rows = append(rows, []types.OCRFragment{f})
		}
	}

	// Column clusters over left edges, keeping clusters with >= 2 members.
	var lefts []int
	for _, f := range fragments {
		lefts = append(lefts, f.X1)
	}
	sort.Ints(lefts)

	var columns []int // cluster centers
	clusterStart := 0
	for i := 1; i <= len(lefts); i++ {
		if i == len(lefts) || lefts[i]-lefts[i-1] > columnTolerancePx {
			if size := i - clusterStart; size >= 2 {
				sum := 0
				for _, v := range lefts[clusterStart:i] {
					sum += v
				}
				columns = append(columns, sum/size)
			}
			clusterStart = i
		}
	}

	if len(rows) < minTableRows || len(columns) < minTableColumns {
		return TableDetection{Strategy: "bbox", Rows: len(rows), Columns: len(columns)}
	}

	aligned := 0
	for _, row := range rows {
	rowLoop:
		for _, f := range row {
			for _, col := range columns {
				if abs(f.X1-col) <= columnTolerancePx {
					aligned++
					break rowLoop
				}
			}
		}
	}

	confidence := float64(aligned) / float64(len(rows))
	bonus := 0.1 * float64(len(columns))
	if bonus > 0.3 {
		bonus = 0.3
	}
	confidence += bonus
	if confidence > 1.0 {
		confidence = 1.0
	}

	return TableDetection{
		IsTable:    true,
		Confidence: confidence,
		Rows:       len(rows),
		Columns:    len(columns),
		Strategy:   "bbox",
	}
}

// detectByText declares a table when separator characters appear on more
// than half of the non-empty lines; otherwise it blends the digit-led line
// ratio with word-count consistency.
func detectByText(text string) TableDetection {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return TableDetection{Strategy: "text"}
	}

	separated := 0
	digitLed := 0
	var wordCounts []int
	for _, line := range lines {
		if strings.ContainsAny(line, "|\t") {
			separated++
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && unicode.IsDigit(rune(trimmed[0])) {
			digitLed++
		}
		wordCounts = append(wordCounts, len(strings.Fields(line)))
	}

	if float64(separated)/float64(len(lines)) > 0.5 {
		return TableDetection{
			IsTable:    true,
			Confidence: 0.8,
			Rows:       len(lines),
			Strategy:   "text",
		}
	}

	digitRatio := float64(digitLed) / float64(lines.count())
	consistency := wordCountConsistency(wordCounts)
	confidence := (digitRatio + consistency) / 2

	return TableDetection{
		IsTable:    confidence >= 0.5,
		Confidence: confidence,
		Rows:       len(lines),
		Strategy:   "text",
	}
}

type lineSet []string

func (l lineSet) count() int { return len(l) }

func nonEmptyLines(text string) lineSet {
	var out lineSet
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// wordCountConsistency scores how uniform per-line word counts are: 1.0 for
// identical counts, approaching 0 as variance grows.
func wordCountConsistency(counts []int) float64 {
	if len(counts) < 2 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	score := 1.0 - variance/(mean*mean)
	if score < 0 {
		return 0
	}
	return score
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
