package reconcile

import (
	"context"
	"time"

	"dockhand/internal/types"
)

const recentOrderWindow = 90 * 24 * time.Hour

// ShoppingRepo exposes the open shopping-list items for a part. Open means
// status approved or ordered; pending and received items never boost.
type ShoppingRepo interface {
	FindOpenShoppingItems(ctx context.Context, yachtID, partID string) ([]types.ShoppingItem, error)
}

// OrderRepo exposes recent purchase-order lines for a part and order lookup
// by number.
type OrderRepo interface {
	FindRecentOrderLines(ctx context.Context, yachtID, partID string, since time.Time) ([]types.RecentOrderMatch, error)
	ListRecentOrders(ctx context.Context, yachtID string, since time.Time) ([]types.Order, error)
}

// shoppingContext finds the best open shopping-list item for a part and
// computes its fulfillment. Fulfillment is received over requested, capped
// at 100%.
func shoppingContext(ctx context.Context, repo ShoppingRepo, yachtID, partID string) (*types.ShoppingListMatch, error) {
	items, err := repo.FindOpenShoppingItems(ctx, yachtID, partID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	// Prefer the least-fulfilled item; it is the one this delivery most
	// plausibly satisfies.
	best := items[0]
	bestPct := fulfillment(best)
	for _, item := range items[1:] {
		if pct := fulfillment(item); pct < bestPct {
			best, bestPct = item, pct
		}
	}

	return &types.ShoppingListMatch{
		ItemID:                best.ID,
		RequestedQuantity:     best.RequestedQuantity,
		ApprovedQuantity:      best.ApprovedQuantity,
		ReceivedQuantity:      best.ReceivedQuantity,
		Status:                best.Status,
		FulfillmentPercentage: bestPct,
	}, nil
}

func fulfillment(item types.ShoppingItem) float64 {
	if item.RequestedQuantity <= 0 {
		return 0
	}
	pct := item.ReceivedQuantity / item.RequestedQuantity
	if pct > 1.0 {
		pct = 1.0
	}
	return pct
}

// orderContext finds the most recent purchase-order line for a part inside
// the 90-day window.
func orderContext(ctx context.Context, repo OrderRepo, yachtID, partID string, now time.Time) (*types.RecentOrderMatch, error) {
	lines, err := repo.FindRecentOrderLines(ctx, yachtID, partID, now.Add(-recentOrderWindow))
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	best := lines[0]
	for _, l := range lines[1:] {
		if l.OrderedAt.After(best.OrderedAt) {
			best = l
		}
	}
	return &best, nil
}

// MatchOrderNumber resolves an extracted order number against the tenant's
// recent orders: exact normalized match first, then fuzzy at ratio >= 80.
func MatchOrderNumber(ctx context.Context, repo OrderRepo, yachtID, extracted string, now time.Time) (*types.Order, error) {
	if extracted == "" {
		return nil, nil
	}
	orders, err := repo.ListRecentOrders(ctx, yachtID, now.Add(-recentOrderWindow))
	if err != nil {
		return nil, err
	}

	normalized := NormalizePartNumber(extracted)
	for _, o := range orders {
		if NormalizePartNumber(o.OrderNumber) == normalized {
			return &o, nil
		}
	}

	var best *types.Order
	bestRatio := 0
	for i, o := range orders {
		if r := Ratio(normalized, NormalizePartNumber(o.OrderNumber)); r >= 80 && r > bestRatio {
			best, bestRatio = &orders[i], r
		}
	}
	return best, nil
}
