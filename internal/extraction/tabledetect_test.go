package extraction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"dockhand/internal/types"
)

// gridFragments lays out rows x cols word boxes on a regular grid.
func gridFragments(rows, cols int) []types.OCRFragment {
	var out []types.OCRFragment
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, types.OCRFragment{
				Text: fmt.Sprintf("cell-%d-%d", r, c),
				X1:   10 + c*200,
				Y1:   r * 100,
				X2:   10 + c*200 + 80,
				Y2:   r*100 + 30,
			})
		}
	}
	return out
}

func TestDetectTableByBoundingBoxes(t *testing.T) {
	result := &types.OCRResult{Fragments: gridFragments(4, 3)}

	d := DetectTable(result)
	assert.True(t, d.IsTable)
	assert.Equal(t, "bbox", d.Strategy)
	assert.Equal(t, 4, d.Rows)
	assert.Equal(t, 3, d.Columns)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetectTableTooFewRowsFallsBackToText(t *testing.T) {
	result := &types.OCRResult{
		Fragments: gridFragments(2, 3),
		Text:      "qty | description | part\n2 | fuel filter | RAC-1\n4 | impeller | JAB-9",
	}

	d := DetectTable(result)
	assert.Equal(t, "text", d.Strategy)
	assert.True(t, d.IsTable)
	assert.Equal(t, 0.8, d.Confidence)
}

func TestDetectTableSeparatorMajority(t *testing.T) {
	// 3 of 4 non-empty lines carry separators.
	text := "Header line\na | b | c\nd | e | f\ng\th\ti"
	d := DetectTable(&types.OCRResult{Text: text})
	assert.True(t, d.IsTable)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Equal(t, 4, d.Rows)
}

func TestDetectTableDigitLedConsistentLines(t *testing.T) {
	text := "2 ea fuel filter\n4 ea impeller kit\n1 ea raw pump"
	d := DetectTable(&types.OCRResult{Text: text})
	assert.True(t, d.IsTable)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetectTableProseIsNotATable(t *testing.T) {
	text := "packing slip for vessel\nthanks\nregards from the warehouse team"
	d := DetectTable(&types.OCRResult{Text: text})
	assert.False(t, d.IsTable)
	assert.Less(t, d.Confidence, 0.5)
}

func TestDetectTableEmptyText(t *testing.T) {
	d := DetectTable(&types.OCRResult{})
	assert.False(t, d.IsTable)
	assert.Equal(t, "text", d.Strategy)
	assert.Zero(t, d.Confidence)
}

func TestWordCountConsistency(t *testing.T) {
	assert.Equal(t, 1.0, wordCountConsistency([]int{4, 4, 4}))
	assert.Zero(t, wordCountConsistency([]int{4}))
	assert.Zero(t, wordCountConsistency([]int{0, 0, 0}))
	assert.Greater(t, wordCountConsistency([]int{4, 5, 4}), wordCountConsistency([]int{1, 9, 2}))
}
