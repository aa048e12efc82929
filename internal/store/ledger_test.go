package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/types"
)

func testEvent(id string, createdAt time.Time) *types.ReceivingEvent {
	return &types.ReceivingEvent{
		ID:             id,
		YachtID:        "yacht-1",
		SessionID:      "sess-1",
		Number:         "RCV-EVT-2026-001",
		CommittedBy:    "captain-1",
		Notes:          "delivered to aft locker",
		LinesCommitted: 3,
		TotalCost:      128.40,
		Signature:      "deadbeef",
		CreatedAt:      createdAt,
	}
}

func TestEventRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.InsertEvent(ctx, testEvent("evt-1", now)))

	got, err := s.GetEvent(ctx, "yacht-1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "RCV-EVT-2026-001", got.Number)
	assert.Equal(t, "delivered to aft locker", got.Notes)
	assert.Equal(t, 3, got.LinesCommitted)
	assert.Equal(t, 128.40, got.TotalCost)
	assert.Equal(t, "deadbeef", got.Signature)
}

func TestCountEventsInYear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in2026 := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	lastDay := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	in2025 := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)

	e1 := testEvent("evt-1", in2026)
	e2 := testEvent("evt-2", lastDay)
	e3 := testEvent("evt-3", in2025)
	require.NoError(t, s.InsertEvent(ctx, e1))
	require.NoError(t, s.InsertEvent(ctx, e2))
	require.NoError(t, s.InsertEvent(ctx, e3))

	count, err := s.CountEventsInYear(ctx, "yacht-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountEventsInYear(ctx, "yacht-1", 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.CountEventsInYear(ctx, "yacht-2", 2026)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInventoryAndFinanceTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := s.InsertInventoryTransaction(ctx, &types.InventoryTransaction{
		ID: "itx-1", YachtID: "yacht-1", PartID: "p1", QuantityDelta: 4,
		Kind: "receiving", ReferenceID: "evt-1", ReferenceKind: "receiving_event",
		ActorID: "captain-1", CreatedAt: now,
	})
	assert.NoError(t, err)

	err = s.InsertFinanceTransaction(ctx, &types.FinanceTransaction{
		ID: "ftx-1", YachtID: "yacht-1", EventID: "evt-1", Kind: "expense",
		Category: "parts", Amount: 170.00, Currency: "USD",
		ActorID: "captain-1", Signature: "cafe01", CreatedAt: now,
	})
	assert.NoError(t, err)

	err = s.InsertAuditEntry(ctx, &types.AuditEntry{
		ID: "aud-1", YachtID: "yacht-1", ActorID: "captain-1",
		Action: "commit_receiving_session", EntityKind: "receiving_session",
		EntityID: "sess-1", OldValue: `{"status":"draft"}`,
		NewValue: `{"status":"committed"}`, Signature: "cafe02", CreatedAt: now,
	})
	assert.NoError(t, err)
}

func TestGetAuditEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.InsertAuditEntry(ctx, &types.AuditEntry{
		ID: "aud-1", YachtID: "yacht-1", ActorID: "captain-1",
		Action: "commit_receiving_session", EntityKind: "receiving_session",
		EntityID: "sess-1", OldValue: `{"status":"draft"}`,
		NewValue: `{"status":"committed"}`, Signature: "cafe02", CreatedAt: now,
	}))

	got, err := s.GetAuditEntry(ctx, "yacht-1", "aud-1")
	require.NoError(t, err)
	assert.Equal(t, "commit_receiving_session", got.Action)
	assert.Equal(t, `{"status":"draft"}`, got.OldValue)
	assert.Equal(t, `{"status":"committed"}`, got.NewValue)
	assert.Equal(t, "cafe02", got.Signature)

	// Tenant scoping and missing rows both come back as not found.
	_, err = s.GetAuditEntry(ctx, "yacht-2", "aud-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAuditEntry(ctx, "yacht-1", "aud-9")
	assert.ErrorIs(t, err, ErrNotFound)
}
