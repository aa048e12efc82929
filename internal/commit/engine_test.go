package commit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/store"
	"dockhand/internal/types"
)

var commitNow = time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "dockhand.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := NewEngine(s)
	e.now = func() time.Time { return commitNow }
	return e, s
}

// seedSession builds a three-line draft: two verified matched lines (one
// priced, one tied to a shopping item) and one unverified line.
func seedSession(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.UpsertPart(ctx, &types.Part{
		ID: "p1", YachtID: "yacht-1", PartNumber: "RAC-900FG",
		Name: "Racor Fuel Filter", QuantityOnHand: 1, MinimumQuantity: 10, Version: 1,
	}))
	require.NoError(t, s.UpsertPart(ctx, &types.Part{
		ID: "p2", YachtID: "yacht-1", PartNumber: "JAB-920",
		Name: "Impeller Kit", QuantityOnHand: 6, MinimumQuantity: 2, Version: 1,
	}))
	require.NoError(t, s.InsertShoppingItem(ctx, &types.ShoppingItem{
		ID: "shop-1", YachtID: "yacht-1", PartID: "p1",
		RequestedQuantity: 10, ApprovedQuantity: 10, Status: "approved",
	}))

	now := commitNow.Add(-time.Hour)
	session := &types.ReceivingSession{
		ID: "sess-1", YachtID: "yacht-1", Number: "RCV-2026-001",
		Status: types.SessionDraft, CreatedBy: "crew-1", CreatedAt: now,
		Lines: []types.LineItem{
			{
				ID: "l1", Sequence: 1, Quantity: 4, Unit: "ea",
				Description: "Racor Fuel Filter", PartNumber: "RAC-900FG",
				UnitPrice: 42.50, Confidence: types.ConfidenceHigh,
				Source: "regex", Verified: true, VerifiedBy: "crew-1",
				Suggestion: &types.SuggestedMatch{
					PartID: "p1", PartNumber: "RAC-900FG", Name: "Racor Fuel Filter",
					Confidence: 1.0, Reason: types.MatchExactPartNumber,
					ShoppingList: &types.ShoppingListMatch{ItemID: "shop-1", RequestedQuantity: 10},
				},
			},
			{
				ID: "l2", Sequence: 2, Quantity: 2, Unit: "ea",
				Description: "Impeller Kit", Confidence: types.ConfidenceMedium,
				Source: "regex", Verified: true, VerifiedBy: "crew-1",
				Suggestion: &types.SuggestedMatch{
					PartID: "p2", PartNumber: "JAB-920", Name: "Impeller Kit",
					Confidence: 0.85, Reason: types.MatchFuzzyDesc,
				},
			},
			{
				ID: "l3", Sequence: 3, Quantity: 1,
				Description: "Unreadable smudged line", Confidence: types.ConfidenceLow,
				Source: "llm", Verified: false,
			},
		},
	}
	require.NoError(t, s.InsertSession(ctx, session))
}

func commitRequest(override bool) Request {
	return Request{
		SessionID:          "sess-1",
		YachtID:            "yacht-1",
		ActorID:            "captain-1",
		Notes:              "stowed in engine room",
		OverrideUnverified: override,
	}
}

func TestCommitRejectsUnverifiedLines(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)

	_, err := e.Commit(context.Background(), commitRequest(false))
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrUnverifiedLines, perr.Code)
	assert.Equal(t, 1, perr.Details["unverified_count"])
	assert.Equal(t, 3, perr.Details["total_lines"])

	// Nothing may have been written.
	got, gerr := s.GetSession(context.Background(), "yacht-1", "sess-1")
	require.NoError(t, gerr)
	assert.Equal(t, types.SessionDraft, got.Status)
	part, gerr := s.GetPart(context.Background(), "yacht-1", "p1")
	require.NoError(t, gerr)
	assert.Equal(t, 1.0, part.QuantityOnHand)
}

func TestCommitWithOverride(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)
	ctx := context.Background()

	summary, err := e.Commit(ctx, commitRequest(true))
	require.NoError(t, err)
	require.NotNil(t, summary.Event)

	// First event of the year for this tenant.
	assert.Equal(t, "RCV-EVT-2026-001", summary.Event.Number)
	assert.Equal(t, 3, summary.Event.LinesCommitted)
	assert.NotEmpty(t, summary.Event.Signature)
	assert.NotEmpty(t, summary.AuditID)

	// The audit entry is readable by id, signed, and tied to the session.
	audit, err := s.GetAuditEntry(ctx, "yacht-1", summary.AuditID)
	require.NoError(t, err)
	assert.Equal(t, "commit_receiving_session", audit.Action)
	assert.Equal(t, "sess-1", audit.EntityID)
	assert.Contains(t, audit.NewValue, summary.Event.ID)
	assert.NotEmpty(t, audit.Signature)

	// Inventory moved only for the verified, matched lines.
	assert.Equal(t, 2, summary.Inventory.PartsUpdated)
	assert.Equal(t, 6.0, summary.Inventory.QuantityAdded)
	assert.Equal(t, 2, summary.Inventory.TransactionsCreated)

	p1, err := s.GetPart(ctx, "yacht-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p1.QuantityOnHand)
	p2, err := s.GetPart(ctx, "yacht-1", "p2")
	require.NoError(t, err)
	assert.Equal(t, 8.0, p2.QuantityOnHand)

	// Only the priced line produced an expense, carried onto the event.
	assert.Equal(t, 1, summary.Finance.TransactionsCreated)
	assert.InDelta(t, 170.0, summary.Finance.TotalAmount, 1e-9)
	stored, err := s.GetEvent(ctx, "yacht-1", summary.Event.ID)
	require.NoError(t, err)
	assert.InDelta(t, 170.0, stored.TotalCost, 1e-9)

	// The shopping item accumulated the received quantity.
	items, err := s.FindOpenShoppingItems(ctx, "yacht-1", "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4.0, items[0].ReceivedQuantity)

	// p1 ended at 5 against a minimum of 10.
	require.Len(t, summary.LowStockAlerts, 1)
	alert := summary.LowStockAlerts[0]
	assert.Equal(t, "p1", alert.PartID)
	assert.Equal(t, 5.0, alert.Shortage)

	// Session flipped to committed with the event recorded.
	sess, err := s.GetSession(ctx, "yacht-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCommitted, sess.Status)
	assert.Equal(t, summary.Event.ID, sess.EventID)
	assert.Equal(t, "captain-1", sess.CommittedBy)
}

func TestCommitFullyVerifiedSession(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)
	ctx := context.Background()

	verified := types.LineItem{
		ID: "l3", Quantity: 1, Description: "Unreadable smudged line",
		Verified: true, VerifiedBy: "crew-2",
	}
	require.NoError(t, s.UpdateLineVerification(ctx, "yacht-1", "sess-1", "l3", &verified))

	summary, err := e.Commit(ctx, commitRequest(false))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Event.LinesCommitted)
	// The hand-verified line has no catalog match, so stock only moved twice.
	assert.Equal(t, 2, summary.Inventory.TransactionsCreated)
}

func TestCommitSecondAttemptFails(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)
	ctx := context.Background()

	_, err := e.Commit(ctx, commitRequest(true))
	require.NoError(t, err)

	_, err = e.Commit(ctx, commitRequest(true))
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrSessionCommitted, perr.Code)

	// The failed retry rolled back its inventory writes.
	p1, gerr := s.GetPart(ctx, "yacht-1", "p1")
	require.NoError(t, gerr)
	assert.Equal(t, 5.0, p1.QuantityOnHand)
}

func TestCommitUnknownSession(t *testing.T) {
	e, _ := newTestEngine(t)

	req := commitRequest(true)
	req.SessionID = "missing"
	_, err := e.Commit(context.Background(), req)
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrSessionNotFound, perr.Code)
}

func TestCommitEventNumbersIncrement(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)
	ctx := context.Background()

	first, err := e.Commit(ctx, commitRequest(true))
	require.NoError(t, err)
	assert.Equal(t, "RCV-EVT-2026-001", first.Event.Number)

	// A second session for the same tenant and year.
	require.NoError(t, s.InsertSession(ctx, &types.ReceivingSession{
		ID: "sess-2", YachtID: "yacht-1", Number: "RCV-2026-002",
		Status: types.SessionDraft, CreatedBy: "crew-1", CreatedAt: commitNow,
		Lines: []types.LineItem{{
			ID: "l4", Sequence: 1, Quantity: 1, Description: "Spare Zinc Anode",
			Confidence: types.ConfidenceLow, Source: "regex", Verified: true,
		}},
	}))

	req := commitRequest(false)
	req.SessionID = "sess-2"
	second, err := e.Commit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "RCV-EVT-2026-002", second.Event.Number)
}

func TestVerifyEventSignature(t *testing.T) {
	e, s := newTestEngine(t)
	seedSession(t, s)
	ctx := context.Background()

	summary, err := e.Commit(ctx, commitRequest(true))
	require.NoError(t, err)

	assert.NoError(t, e.VerifyEventSignature(ctx, "yacht-1", summary.Event.ID))

	// Tampering with the stored signature must surface as a mismatch.
	tampered := *summary.Event
	tampered.ID = "evt-forged"
	tampered.Signature = "0000000000000000"
	require.NoError(t, s.InsertEvent(ctx, &tampered))

	err = e.VerifyEventSignature(ctx, "yacht-1", "evt-forged")
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrSignatureMismatch, perr.Code)
}
