package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dockhand/internal/types"
)

// ErrInsufficientStock is returned when an inventory delta would take a
// part's quantity below zero.
var ErrInsufficientStock = errors.New("insufficient stock")

const partColumns = `id, yacht_id, part_number, name, manufacturer,
	storage_location, quantity_on_hand, minimum_quantity, version`

// ListParts returns the tenant's full catalog.
func (q queries) ListParts(ctx context.Context, yachtID string) ([]types.Part, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE yacht_id = ? ORDER BY part_number`, yachtID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []types.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// GetPart fetches one catalog entry scoped to its tenant.
func (q queries) GetPart(ctx context.Context, yachtID, partID string) (*types.Part, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+partColumns+` FROM parts WHERE yacht_id = ? AND id = ?`, yachtID, partID)
	if err != nil {
		return nil, fmt.Errorf("failed to get part: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	p, err := scanPart(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPart inserts or replaces a catalog entry, keyed on
// (yacht_id, part_number).
func (q queries) UpsertPart(ctx context.Context, p *types.Part) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO parts (id, yacht_id, part_number, name, manufacturer,
			storage_location, quantity_on_hand, minimum_quantity, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(yacht_id, part_number) DO UPDATE SET
			name = excluded.name,
			manufacturer = excluded.manufacturer,
			storage_location = excluded.storage_location,
			minimum_quantity = excluded.minimum_quantity`,
		p.ID, p.YachtID, p.PartNumber, p.Name, p.Manufacturer,
		p.StorageLocation, p.QuantityOnHand, p.MinimumQuantity, p.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert part: %w", err)
	}
	return nil
}

// ApplyInventoryDelta adjusts a part's on-hand quantity atomically. The
// conditional WHERE clause rejects any delta that would drive the quantity
// negative; zero rows affected means insufficient stock (or an unknown
// part, which GetPart distinguishes for the caller).
func (q queries) ApplyInventoryDelta(ctx context.Context, yachtID, partID string, delta float64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE parts
		SET quantity_on_hand = quantity_on_hand + ?, version = version + 1
		WHERE yacht_id = ? AND id = ? AND quantity_on_hand + ? >= 0`,
		delta, yachtID, partID, delta)
	if err != nil {
		return fmt.Errorf("failed to apply inventory delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, gerr := q.GetPart(ctx, yachtID, partID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInsufficientStock
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPart(row rowScanner) (types.Part, error) {
	var p types.Part
	var manufacturer, location sql.NullString
	err := row.Scan(&p.ID, &p.YachtID, &p.PartNumber, &p.Name, &manufacturer,
		&location, &p.QuantityOnHand, &p.MinimumQuantity, &p.Version)
	if err != nil {
		return types.Part{}, fmt.Errorf("failed to scan part: %w", err)
	}
	p.Manufacturer = manufacturer.String
	p.StorageLocation = location.String
	return p, nil
}
