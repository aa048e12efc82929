package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dockhand/internal/types"
)

// InsertOrder persists a purchase-order header.
func (q queries) InsertOrder(ctx context.Context, o *types.Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (id, yacht_id, order_number, vendor, ordered_at)
		VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.YachtID, o.OrderNumber, nullableString(o.Vendor), o.OrderedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderLine persists one purchase-order line.
func (q queries) InsertOrderLine(ctx context.Context, id, orderID, yachtID, partID string, quantity, unitPrice float64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, yacht_id, part_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, orderID, yachtID, partID, quantity, unitPrice)
	if err != nil {
		return fmt.Errorf("failed to insert order line: %w", err)
	}
	return nil
}

// ListRecentOrders returns the tenant's orders placed at or after since,
// newest first.
func (q queries) ListRecentOrders(ctx context.Context, yachtID string, since time.Time) ([]types.Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, yacht_id, order_number, vendor, ordered_at
		FROM orders WHERE yacht_id = ? AND ordered_at >= ?
		ORDER BY ordered_at DESC`, yachtID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []types.Order
	for rows.Next() {
		var o types.Order
		var vendor sql.NullString
		if err := rows.Scan(&o.ID, &o.YachtID, &o.OrderNumber, &vendor, &o.OrderedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Vendor = vendor.String
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// FindRecentOrderLines returns purchase-order lines for a part placed at or
// after since, newest first.
func (q queries) FindRecentOrderLines(ctx context.Context, yachtID, partID string, since time.Time) ([]types.RecentOrderMatch, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT o.id, o.order_number, l.quantity, COALESCE(l.unit_price, 0), o.ordered_at
		FROM order_lines l
		JOIN orders o ON o.id = l.order_id
		WHERE l.yacht_id = ? AND l.part_id = ? AND o.ordered_at >= ?
		ORDER BY o.ordered_at DESC`, yachtID, partID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var matches []types.RecentOrderMatch
	for rows.Next() {
		var m types.RecentOrderMatch
		if err := rows.Scan(&m.OrderID, &m.OrderNumber, &m.Quantity, &m.UnitPrice, &m.OrderedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// InsertShoppingItem persists one shopping-list entry.
func (q queries) InsertShoppingItem(ctx context.Context, item *types.ShoppingItem) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO shopping_items (id, yacht_id, order_id, part_id,
			requested_quantity, approved_quantity, received_quantity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.YachtID, nullableString(item.OrderID), item.PartID,
		item.RequestedQuantity, item.ApprovedQuantity, item.ReceivedQuantity, item.Status)
	if err != nil {
		return fmt.Errorf("failed to insert shopping item: %w", err)
	}
	return nil
}

// FindOpenShoppingItems returns a tenant's approved or ordered shopping-list
// entries for a part.
func (q queries) FindOpenShoppingItems(ctx context.Context, yachtID, partID string) ([]types.ShoppingItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, yacht_id, COALESCE(order_id, ''), part_id,
			requested_quantity, approved_quantity, received_quantity, status
		FROM shopping_items
		WHERE yacht_id = ? AND part_id = ? AND status IN ('approved', 'ordered')`,
		yachtID, partID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shopping items: %w", err)
	}
	defer rows.Close()

	var items []types.ShoppingItem
	for rows.Next() {
		var item types.ShoppingItem
		if err := rows.Scan(&item.ID, &item.YachtID, &item.OrderID, &item.PartID,
			&item.RequestedQuantity, &item.ApprovedQuantity, &item.ReceivedQuantity, &item.Status); err != nil {
			return nil, fmt.Errorf("failed to scan shopping item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AddShoppingReceived accumulates received quantity onto a shopping-list
// entry and flips it to received once fully satisfied.
func (q queries) AddShoppingReceived(ctx context.Context, yachtID, itemID string, quantity float64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE shopping_items
		SET received_quantity = received_quantity + ?,
			status = CASE
				WHEN received_quantity + ? >= requested_quantity THEN 'received'
				ELSE status
			END
		WHERE yacht_id = ? AND id = ?`,
		quantity, quantity, yachtID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update shopping item: %w", err)
	}
	return nil
}
