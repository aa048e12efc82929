package reconcile

import (
	"context"
	"sort"

	"dockhand/internal/types"
)

const (
	fuzzyThreshold    = 70 // minimum ratio for a fuzzy candidate
	perStageLimit     = 10 // candidates kept per matching stage before merge
	mergedLimit       = 5  // candidates surviving the merge
	alternativeFloor  = 0.6
	alternativeLimit  = 3
)

// CatalogRepo is the catalog surface the matcher needs.
type CatalogRepo interface {
	ListParts(ctx context.Context, yachtID string) ([]types.Part, error)
}

// PartMatcher scores draft lines against the tenant's catalog.
type PartMatcher struct {
	catalog CatalogRepo
}

// NewPartMatcher creates a matcher over the given catalog.
func NewPartMatcher(catalog CatalogRepo) *PartMatcher {
	return &PartMatcher{catalog: catalog}
}

type scoredPart struct {
	part   types.Part
	score  float64
	reason types.MatchReason
}

// Candidates runs the three matching stages and merges their output.
//
// Stage 1 compares normalized part numbers exactly; a hit scores 1.0 and
// short-circuits the fuzzy stages for that part. Stage 2 fuzzy-matches part
// numbers, stage 3 token-sort-matches descriptions against part names; both
// admit candidates at ratio >= 70. Each stage keeps its best ten; the merge
// dedupes by part, keeps the highest score, and returns at most five.
func (m *PartMatcher) Candidates(ctx context.Context, yachtID string, line types.LineItem) ([]scoredPart, error) {
	parts, err := m.catalog.ListParts(ctx, yachtID)
	if err != nil {
		return nil, err
	}

	normalized := NormalizePartNumber(line.PartNumber)

	var exact, fuzzyPart, fuzzyDesc []scoredPart
	for _, p := range parts {
		catalogNorm := NormalizePartNumber(p.PartNumber)

		if normalized != "" && catalogNorm == normalized {
			exact = append(exact, scoredPart{part: p, score: 1.0, reason: types.MatchExactPartNumber})
			continue
		}
		if normalized != "" {
			if r := Ratio(normalized, catalogNorm); r >= fuzzyThreshold {
				fuzzyPart = append(fuzzyPart, scoredPart{
					part:   p,
					score:  float64(r) / 100,
					reason: types.MatchFuzzyPartNumber,
				})
			}
		}
		if line.Description != "" {
			if r := TokenSortRatio(line.Description, p.Name); r >= fuzzyThreshold {
				fuzzyDesc = append(fuzzyDesc, scoredPart{
					part:   p,
					score:  float64(r) / 100,
					reason: types.MatchFuzzyDesc,
				})
			}
		}
	}

	return mergeCandidates(topN(exact), topN(fuzzyPart), topN(fuzzyDesc)), nil
}

func topN(candidates []scoredPart) []scoredPart {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > perStageLimit {
		candidates = candidates[:perStageLimit]
	}
	return candidates
}

func mergeCandidates(stages ...[]scoredPart) []scoredPart {
	best := make(map[string]scoredPart)
	var order []string
	for _, stage := range stages {
		for _, c := range stage {
			existing, seen := best[c.part.ID]
			if !seen {
				best[c.part.ID] = c
				order = append(order, c.part.ID)
			} else if c.score > existing.score {
				best[c.part.ID] = c
			}
		}
	}

	merged := make([]scoredPart, 0, len(order))
	for _, id := range order {
		merged = append(merged, best[id])
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if len(merged) > mergedLimit {
		merged = merged[:mergedLimit]
	}
	return merged
}
