package reconcile

import (
	"time"

	"dockhand/internal/types"
)

// rankSuggestion applies context boosts to the top candidate and assembles
// the final suggestion with its alternatives.
//
// Boost schedule:
//   - shopping list: +0.15 at fulfillment >= 100%, +0.10 at 50-99%,
//     +0.05 otherwise; any shopping boost upgrades the match reason to
//     on_shopping_list;
//   - recent order: +0.10 within 7 days, +0.05 within 30, +0.02 beyond.
//
// Exact matches already at 1.0 are never boosted. The final confidence is
// clamped to 1.0.
func rankSuggestion(candidates []scoredPart, shopping *types.ShoppingListMatch, order *types.RecentOrderMatch, now time.Time) *types.SuggestedMatch {
	if len(candidates) == 0 {
		return nil
	}

	primary := candidates[0]
	confidence := primary.score
	reason := primary.reason

	if primary.reason != types.MatchExactPartNumber {
		if shopping != nil {
			switch {
			case shopping.FulfillmentPercentage >= 1.0:
				confidence += 0.15
			case shopping.FulfillmentPercentage >= 0.5:
				confidence += 0.10
			default:
				confidence += 0.05
			}
			reason = types.MatchOnShoppingList
		}
		if order != nil {
			age := now.Sub(order.OrderedAt)
			switch {
			case age <= 7*24*time.Hour:
				confidence += 0.10
			case age <= 30*24*time.Hour:
				confidence += 0.05
			default:
				confidence += 0.02
			}
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	suggestion := &types.SuggestedMatch{
		PartID:          primary.part.ID,
		PartNumber:      primary.part.PartNumber,
		Name:            primary.part.Name,
		Manufacturer:    primary.part.Manufacturer,
		Confidence:      confidence,
		Reason:          reason,
		QuantityOnHand:  primary.part.QuantityOnHand,
		StorageLocation: primary.part.StorageLocation,
		ShoppingList:    shopping,
		RecentOrder:     order,
	}

	for _, alt := range candidates[1:] {
		if alt.score < alternativeFloor {
			continue
		}
		suggestion.Alternatives = append(suggestion.Alternatives, types.SuggestedMatch{
			PartID:          alt.part.ID,
			PartNumber:      alt.part.PartNumber,
			Name:            alt.part.Name,
			Manufacturer:    alt.part.Manufacturer,
			Confidence:      alt.score,
			Reason:          alt.reason,
			QuantityOnHand:  alt.part.QuantityOnHand,
			StorageLocation: alt.part.StorageLocation,
		})
		if len(suggestion.Alternatives) == alternativeLimit {
			break
		}
	}

	return suggestion
}
