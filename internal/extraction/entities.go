package extraction

import (
	"regexp"
	"strings"

	"dockhand/internal/types"
)

var (
	// Order numbers: ORD-YYYY-NNN first, then generic AA(A)(A)-NNNNN(N),
	// then bare numerics of six or more digits near an "order" label.
	orderExactRe   = regexp.MustCompile(`\bORD-\d{4}-\d{3}\b`)
	orderGenericRe = regexp.MustCompile(`\b[A-Z]{2,4}-\d{5,6}\b`)
	orderNumericRe = regexp.MustCompile(`(?i)order\s*(?:number|no\.?|#)?\s*:?\s*(\d{6,})`)

	// Tracking: UPS 1Z codes, long numerics, then long alphanumerics near a
	// "tracking" label.
	trackingUPSRe     = regexp.MustCompile(`\b1Z[0-9A-Z]{16}\b`)
	trackingNumericRe = regexp.MustCompile(`\b\d{12,}\b`)
	trackingLabelRe   = regexp.MustCompile(`(?i)tracking\s*(?:number|no\.?|#)?\s*:?\s*([A-Z0-9]{10,})`)

	// Simple packing-list lines: "<qty> ea|each|pcs|units <text>".
	simpleLineRe = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s+(ea|each|pcs?|units?)\s+(.{3,})$`)
)

// ExtractEntities pulls document-level fields from packing-list text.
// Per-document confidence is 0.35 for an order number, 0.35 for tracking,
// 0.20 for any simple line items, plus 0.10 when more than one line matched,
// capped at 1.0.
func ExtractEntities(text string) types.ExtractedEntities {
	var e types.ExtractedEntities

	if m := orderExactRe.FindString(text); m != "" {
		e.OrderNumber = m
	} else if m := orderGenericRe.FindString(text); m != "" {
		e.OrderNumber = m
	} else if m := orderNumericRe.FindStringSubmatch(text); m != nil {
		e.OrderNumber = m[1]
	}

	if m := trackingUPSRe.FindString(text); m != "" {
		e.TrackingNumber = m
	} else if m := trackingLabelRe.FindStringSubmatch(text); m != nil {
		e.TrackingNumber = strings.ToUpper(m[1])
	} else if m := trackingNumericRe.FindString(text); m != "" && m != e.OrderNumber {
		e.TrackingNumber = m
	}

	lineMatches := 0
	for _, line := range strings.Split(text, "\n") {
		if simpleLineRe.MatchString(line) {
			lineMatches++
		}
	}

	if e.OrderNumber != "" {
		e.Confidence += 0.35
	}
	if e.TrackingNumber != "" {
		e.Confidence += 0.35
	}
	if lineMatches > 0 {
		e.Confidence += 0.20
	}
	if lineMatches > 1 {
		e.Confidence += 0.10
	}
	if e.Confidence > 1.0 {
		e.Confidence = 1.0
	}
	return e
}
