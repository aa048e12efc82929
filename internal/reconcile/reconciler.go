package reconcile

import (
	"context"
	"time"

	"dockhand/internal/logging"
	"dockhand/internal/types"
)

// Reconciler runs the full matching stage for a batch of draft lines.
type Reconciler struct {
	matcher  *PartMatcher
	shopping ShoppingRepo
	orders   OrderRepo
	now      func() time.Time
}

// NewReconciler wires the stage over its three repositories.
func NewReconciler(catalog CatalogRepo, shopping ShoppingRepo, orders OrderRepo) *Reconciler {
	return &Reconciler{
		matcher:  NewPartMatcher(catalog),
		shopping: shopping,
		orders:   orders,
		now:      time.Now,
	}
}

// ReconcileLines attaches a ranked suggestion and, where context exists, a
// quantity discrepancy to every line. Lines that match nothing are left
// untouched; the crew resolves them by hand during review.
func (r *Reconciler) ReconcileLines(ctx context.Context, yachtID string, lines []types.LineItem) ([]types.LineItem, error) {
	timer := logging.StartTimer(logging.CategoryReconcile, "reconcile_lines")
	defer timer.Stop()

	matched := 0
	for i := range lines {
		suggestion, err := r.reconcileLine(ctx, yachtID, lines[i])
		if err != nil {
			return nil, err
		}
		if suggestion == nil {
			continue
		}
		matched++
		lines[i].Suggestion = suggestion

		// Expected quantity comes from the shopping list when present,
		// falling back to the recent order line.
		var expected float64
		switch {
		case suggestion.ShoppingList != nil:
			expected = suggestion.ShoppingList.ApprovedQuantity
			if expected == 0 {
				expected = suggestion.ShoppingList.RequestedQuantity
			}
		case suggestion.RecentOrder != nil:
			expected = suggestion.RecentOrder.Quantity
		default:
			continue // nothing to compare against
		}
		lines[i].Discrepancy = DetectDiscrepancy(expected, lines[i].Quantity)
	}

	logging.Reconcile("reconciled %d/%d lines for yacht %s", matched, len(lines), yachtID)
	return lines, nil
}

func (r *Reconciler) reconcileLine(ctx context.Context, yachtID string, line types.LineItem) (*types.SuggestedMatch, error) {
	candidates, err := r.matcher.Candidates(ctx, yachtID, line)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	partID := candidates[0].part.ID
	shopping, err := shoppingContext(ctx, r.shopping, yachtID, partID)
	if err != nil {
		// Context lookups enrich the suggestion; their failure should not
		// sink the match itself.
		logging.Get(logging.CategoryReconcile).Warn("shopping lookup failed for part %s: %v", partID, err)
		shopping = nil
	}
	order, err := orderContext(ctx, r.orders, yachtID, partID, r.now())
	if err != nil {
		logging.Get(logging.CategoryReconcile).Warn("order lookup failed for part %s: %v", partID, err)
		order = nil
	}

	return rankSuggestion(candidates, shopping, order, r.now()), nil
}
