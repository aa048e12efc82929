package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/types"
)

type fakeShopping struct {
	items []types.ShoppingItem
	err   error
}

func (s *fakeShopping) FindOpenShoppingItems(ctx context.Context, yachtID, partID string) ([]types.ShoppingItem, error) {
	return s.items, s.err
}

type fakeOrders struct {
	lines  []types.RecentOrderMatch
	orders []types.Order
	err    error
}

func (o *fakeOrders) FindRecentOrderLines(ctx context.Context, yachtID, partID string, since time.Time) ([]types.RecentOrderMatch, error) {
	return o.lines, o.err
}

func (o *fakeOrders) ListRecentOrders(ctx context.Context, yachtID string, since time.Time) ([]types.Order, error) {
	return o.orders, o.err
}

func newTestReconciler(catalog CatalogRepo, shopping ShoppingRepo, orders OrderRepo) *Reconciler {
	r := NewReconciler(catalog, shopping, orders)
	r.now = func() time.Time { return rankNow }
	return r
}

func TestShoppingContextPicksLeastFulfilled(t *testing.T) {
	repo := &fakeShopping{items: []types.ShoppingItem{
		{ID: "s1", RequestedQuantity: 10, ReceivedQuantity: 8},
		{ID: "s2", RequestedQuantity: 10, ReceivedQuantity: 2},
		{ID: "s3", RequestedQuantity: 10, ReceivedQuantity: 5},
	}}

	m, err := shoppingContext(context.Background(), repo, "yacht-1", "p1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "s2", m.ItemID)
	assert.InDelta(t, 0.2, m.FulfillmentPercentage, 1e-9)
}

func TestShoppingContextFulfillmentBounds(t *testing.T) {
	over := &fakeShopping{items: []types.ShoppingItem{
		{ID: "s1", RequestedQuantity: 10, ReceivedQuantity: 15},
	}}
	m, err := shoppingContext(context.Background(), over, "yacht-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.FulfillmentPercentage, "over-receipt caps at 100%")

	zero := &fakeShopping{items: []types.ShoppingItem{
		{ID: "s1", RequestedQuantity: 0, ReceivedQuantity: 5},
	}}
	m, err = shoppingContext(context.Background(), zero, "yacht-1", "p1")
	require.NoError(t, err)
	assert.Zero(t, m.FulfillmentPercentage)
}

func TestShoppingContextEmpty(t *testing.T) {
	m, err := shoppingContext(context.Background(), &fakeShopping{}, "yacht-1", "p1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestOrderContextPicksMostRecent(t *testing.T) {
	repo := &fakeOrders{lines: []types.RecentOrderMatch{
		{OrderID: "o1", OrderedAt: rankNow.Add(-40 * 24 * time.Hour)},
		{OrderID: "o2", OrderedAt: rankNow.Add(-5 * 24 * time.Hour)},
		{OrderID: "o3", OrderedAt: rankNow.Add(-20 * 24 * time.Hour)},
	}}

	m, err := orderContext(context.Background(), repo, "yacht-1", "p1", rankNow)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "o2", m.OrderID)
}

func TestMatchOrderNumber(t *testing.T) {
	repo := &fakeOrders{orders: []types.Order{
		{ID: "o1", OrderNumber: "ORD-2026-042"},
		{ID: "o2", OrderNumber: "WM-48291"},
	}}

	exact, err := MatchOrderNumber(context.Background(), repo, "yacht-1", "ord 2026 042", rankNow)
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, "o1", exact.ID)

	// One OCR-garbled digit still resolves through the fuzzy pass.
	fuzzy, err := MatchOrderNumber(context.Background(), repo, "yacht-1", "ORD-2026-043", rankNow)
	require.NoError(t, err)
	require.NotNil(t, fuzzy)
	assert.Equal(t, "o1", fuzzy.ID)

	miss, err := MatchOrderNumber(context.Background(), repo, "yacht-1", "ZZ-99999", rankNow)
	require.NoError(t, err)
	assert.Nil(t, miss)

	none, err := MatchOrderNumber(context.Background(), repo, "yacht-1", "", rankNow)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReconcileLinesAttachesSuggestionAndDiscrepancy(t *testing.T) {
	catalog := &fakeCatalog{parts: testParts()}
	shopping := &fakeShopping{items: []types.ShoppingItem{
		{ID: "s1", RequestedQuantity: 10, ApprovedQuantity: 8, ReceivedQuantity: 0},
	}}
	orders := &fakeOrders{}
	r := newTestReconciler(catalog, shopping, orders)

	lines := []types.LineItem{
		{Sequence: 1, Quantity: 4, Description: "fuel filter", PartNumber: "RAC-900FG"},
		{Sequence: 2, Quantity: 1, Description: "galley provisions"},
	}

	got, err := r.ReconcileLines(context.Background(), "yacht-1", lines)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	require.NotNil(t, first.Suggestion)
	assert.Equal(t, "p1", first.Suggestion.PartID)
	assert.Equal(t, types.MatchExactPartNumber, first.Suggestion.Reason)
	// Expected 8 approved vs 4 received: a 50% shortage.
	require.NotNil(t, first.Discrepancy)
	assert.Equal(t, 4.0, first.Discrepancy.Shortage)
	assert.Equal(t, types.SeverityHigh, first.Discrepancy.Severity)

	second := got[1]
	assert.Nil(t, second.Suggestion, "unmatchable lines stay untouched")
	assert.Nil(t, second.Discrepancy)
}

func TestReconcileLinesExpectedFallsBackToOrder(t *testing.T) {
	catalog := &fakeCatalog{parts: testParts()}
	orders := &fakeOrders{lines: []types.RecentOrderMatch{
		{OrderID: "o1", Quantity: 6, OrderedAt: rankNow.Add(-10 * 24 * time.Hour)},
	}}
	r := newTestReconciler(catalog, &fakeShopping{}, orders)

	lines := []types.LineItem{{Sequence: 1, Quantity: 6, PartNumber: "RAC-900FG"}}
	got, err := r.ReconcileLines(context.Background(), "yacht-1", lines)
	require.NoError(t, err)

	require.NotNil(t, got[0].Suggestion)
	assert.Nil(t, got[0].Discrepancy, "order quantity matches the delivery")
}

func TestReconcileLinesToleratesContextFailures(t *testing.T) {
	catalog := &fakeCatalog{parts: testParts()}
	shopping := &fakeShopping{err: errors.New("database locked")}
	orders := &fakeOrders{err: errors.New("database locked")}
	r := newTestReconciler(catalog, shopping, orders)

	lines := []types.LineItem{{Sequence: 1, Quantity: 2, PartNumber: "RAC-900FG"}}
	got, err := r.ReconcileLines(context.Background(), "yacht-1", lines)
	require.NoError(t, err, "context lookups are best-effort")

	require.NotNil(t, got[0].Suggestion)
	assert.Nil(t, got[0].Suggestion.ShoppingList)
	assert.Nil(t, got[0].Suggestion.RecentOrder)
}

func TestReconcileLinesCatalogErrorIsFatal(t *testing.T) {
	r := newTestReconciler(&fakeCatalog{err: errors.New("database locked")}, &fakeShopping{}, &fakeOrders{})

	_, err := r.ReconcileLines(context.Background(), "yacht-1", []types.LineItem{{PartNumber: "RAC-900FG"}})
	assert.Error(t, err)
}
