// Package extraction converts raw OCR text into structured draft line items
// while spending the minimum LLM budget. Deterministic parsing runs first;
// the cost controller decides whether low coverage justifies an LLM call.
package extraction

import (
	"strings"

	"dockhand/internal/types"
)

// indicatorSets are the per-kind token patterns the classifier counts.
// Matching is case-insensitive substring search.
var indicatorSets = map[types.DocumentKind][]string{
	types.DocPackingList: {
		"packing list", "packing slip", "pack list", "shipped via",
		"ship to", "tracking number", "carton", "shipment",
	},
	types.DocInvoice: {
		"invoice", "invoice number", "amount due", "bill to",
		"payment terms", "subtotal", "tax", "remit to",
	},
	types.DocPurchaseOrder: {
		"purchase order", "p.o. number", "po number", "po #",
		"vendor", "requisition", "buyer", "terms of purchase",
	},
	types.DocWorkOrder: {
		"work order", "wo number", "wo #", "labor", "technician",
		"job number", "scheduled date", "completed by",
	},
}

// Classify matches the four indicator sets against the text and returns the
// winner, its confidence, and the matched substrings. Confidence is bucketed
// by match count: 0.9 for three or more, 0.75 for two, 0.5 for one, 0.0
// (unknown) for none.
func Classify(text string) types.Classification {
	lower := strings.ToLower(text)

	var (
		bestKind  = types.DocUnknown
		bestCount int
		bestHits  []string
	)

	// Deterministic iteration so ties resolve stably.
	for _, kind := range []types.DocumentKind{
		types.DocPackingList, types.DocInvoice, types.DocPurchaseOrder, types.DocWorkOrder,
	} {
		var hits []string
		for _, indicator := range indicatorSets[kind] {
			if strings.Contains(lower, indicator) {
				hits = append(hits, indicator)
			}
		}
		if len(hits) > bestCount {
			bestCount = len(hits)
			bestKind = kind
			bestHits = hits
		}
	}

	var confidence float64
	switch {
	case bestCount >= 3:
		confidence = 0.9
	case bestCount == 2:
		confidence = 0.75
	case bestCount == 1:
		confidence = 0.5
	default:
		bestKind = types.DocUnknown
	}

	return types.Classification{
		Kind:       bestKind,
		Confidence: confidence,
		Indicators: bestHits,
	}
}
