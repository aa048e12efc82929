package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dockhand/internal/types"
)

// The ledger tables are append-only: events, inventory and finance
// transactions, and audit entries are inserted once and never touched again.

// InsertEvent persists an immutable receiving event.
func (q queries) InsertEvent(ctx context.Context, e *types.ReceivingEvent) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO receiving_events (id, yacht_id, session_id, event_number,
			committed_by, notes, lines_committed, total_cost, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.YachtID, e.SessionID, e.Number, e.CommittedBy,
		nullableString(e.Notes), e.LinesCommitted, e.TotalCost, e.Signature, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert receiving event: %w", err)
	}
	return nil
}

// GetEvent fetches one receiving event scoped to its tenant.
func (q queries) GetEvent(ctx context.Context, yachtID, eventID string) (*types.ReceivingEvent, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, yacht_id, session_id, event_number, committed_by,
			COALESCE(notes, ''), lines_committed, total_cost, signature, created_at
		FROM receiving_events WHERE yacht_id = ? AND id = ?`, yachtID, eventID)

	var e types.ReceivingEvent
	err := row.Scan(&e.ID, &e.YachtID, &e.SessionID, &e.Number, &e.CommittedBy,
		&e.Notes, &e.LinesCommitted, &e.TotalCost, &e.Signature, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan receiving event: %w", err)
	}
	return &e, nil
}

// GetAuditEntry fetches one audit record scoped to its tenant, for
// signature verification reads.
func (q queries) GetAuditEntry(ctx context.Context, yachtID, id string) (*types.AuditEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, yacht_id, actor_id, action, entity_kind, entity_id,
			COALESCE(old_value, ''), COALESCE(new_value, ''), signature, created_at
		FROM audit_log WHERE yacht_id = ? AND id = ?`, yachtID, id)

	var e types.AuditEntry
	err := row.Scan(&e.ID, &e.YachtID, &e.ActorID, &e.Action, &e.EntityKind,
		&e.EntityID, &e.OldValue, &e.NewValue, &e.Signature, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	return &e, nil
}

// CountEventsInYear counts a tenant's receiving events created in the given
// calendar year (UTC), used for event number allocation.
func (q queries) CountEventsInYear(ctx context.Context, yachtID string, year int) (int, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM receiving_events
		WHERE yacht_id = ? AND created_at >= ? AND created_at < ?`,
		yachtID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// InsertInventoryTransaction appends a stock movement record.
func (q queries) InsertInventoryTransaction(ctx context.Context, t *types.InventoryTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, yacht_id, part_id, quantity_delta,
			kind, reference_id, reference_kind, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.YachtID, t.PartID, t.QuantityDelta, t.Kind,
		nullableString(t.ReferenceID), nullableString(t.ReferenceKind),
		t.ActorID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert inventory transaction: %w", err)
	}
	return nil
}

// InsertFinanceTransaction appends an expense record.
func (q queries) InsertFinanceTransaction(ctx context.Context, t *types.FinanceTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO finance_transactions (id, yacht_id, event_id, kind, category,
			amount, currency, actor_id, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.YachtID, t.EventID, t.Kind, nullableString(t.Category),
		t.Amount, t.Currency, t.ActorID, t.Signature, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert finance transaction: %w", err)
	}
	return nil
}

// InsertAuditEntry appends one audit record.
func (q queries) InsertAuditEntry(ctx context.Context, e *types.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, yacht_id, actor_id, action, entity_kind,
			entity_id, old_value, new_value, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.YachtID, e.ActorID, e.Action, e.EntityKind, e.EntityID,
		nullableString(e.OldValue), nullableString(e.NewValue), e.Signature, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
