package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/types"
)

func draftSession(yachtID, id string) *types.ReceivingSession {
	return &types.ReceivingSession{
		ID:        id,
		YachtID:   yachtID,
		Number:    "RCV-2026-001",
		Status:    types.SessionDraft,
		CreatedBy: "crew-1",
		UploadIDs: []string{"up-1", "up-2"},
		Summary: types.ProcessingSummary{
			LinesExtracted: 2,
			PrimaryMethod:  "regex",
			Coverage:       0.9,
		},
		Lines: []types.LineItem{
			{
				ID: id + "-l1", Sequence: 1, Quantity: 2, Unit: "ea",
				Description: "Racor Fuel Filter", PartNumber: "RAC-900FG",
				UnitPrice: 42.50, Confidence: types.ConfidenceHigh,
				Source: "regex", RawText: "2 ea Racor Fuel Filter RAC-900FG",
				Suggestion: &types.SuggestedMatch{
					PartID: "p1", PartNumber: "RAC-900FG", Name: "Racor Fuel Filter",
					Confidence: 1.0, Reason: types.MatchExactPartNumber,
				},
				Discrepancy: &types.Discrepancy{
					Expected: 4, Received: 2, Shortage: 2, Severity: types.SeverityHigh,
				},
			},
			{
				ID: id + "-l2", Sequence: 2, Quantity: 1,
				Description: "Impeller Kit", Confidence: types.ConfidenceLow,
				Source: "llm",
			},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestNextSessionNumberMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.NextSessionNumber(ctx, "yacht-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, "RCV-2026-001", first)

	second, err := s.NextSessionNumber(ctx, "yacht-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, "RCV-2026-002", second)

	// Counters are independent per tenant and per year.
	other, err := s.NextSessionNumber(ctx, "yacht-2", 2026)
	require.NoError(t, err)
	assert.Equal(t, "RCV-2026-001", other)

	nextYear, err := s.NextSessionNumber(ctx, "yacht-1", 2027)
	require.NoError(t, err)
	assert.Equal(t, "RCV-2027-001", nextYear)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := draftSession("yacht-1", "sess-1")
	require.NoError(t, s.InsertSession(ctx, want))

	got, err := s.GetSession(ctx, "yacht-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "RCV-2026-001", got.Number)
	assert.Equal(t, types.SessionDraft, got.Status)
	assert.Equal(t, []string{"up-1", "up-2"}, got.UploadIDs)
	assert.Equal(t, 0.9, got.Summary.Coverage)
	assert.Nil(t, got.CommittedAt)

	require.Len(t, got.Lines, 2)
	first := got.Lines[0]
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 42.50, first.UnitPrice)
	require.NotNil(t, first.Suggestion)
	assert.Equal(t, "p1", first.Suggestion.PartID)
	require.NotNil(t, first.Discrepancy)
	assert.Equal(t, types.SeverityHigh, first.Discrepancy.Severity)

	second := got.Lines[1]
	assert.Equal(t, 2, second.Sequence)
	assert.Nil(t, second.Suggestion)
	assert.Empty(t, second.Unit)
}

func TestGetSessionScopedToTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, draftSession("yacht-1", "sess-1")))

	_, err := s.GetSession(ctx, "yacht-2", "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLineVerification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := draftSession("yacht-1", "sess-1")
	require.NoError(t, s.InsertSession(ctx, sess))

	now := time.Now().UTC().Truncate(time.Second)
	line := sess.Lines[0]
	line.Quantity = 3 // crew corrected the count
	line.Verified = true
	line.VerifiedBy = "crew-2"
	line.VerifiedAt = &now
	require.NoError(t, s.UpdateLineVerification(ctx, "yacht-1", "sess-1", line.ID, &line))

	got, err := s.GetSession(ctx, "yacht-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Lines[0].Quantity)
	assert.True(t, got.Lines[0].Verified)
	assert.Equal(t, "crew-2", got.Lines[0].VerifiedBy)
}

func TestUpdateLineVerificationBlockedAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := draftSession("yacht-1", "sess-1")
	require.NoError(t, s.InsertSession(ctx, sess))

	ok, err := s.CommitSessionIfDraft(ctx, "yacht-1", "sess-1", "evt-1", "captain-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	line := sess.Lines[0]
	line.Verified = true
	err = s.UpdateLineVerification(ctx, "yacht-1", "sess-1", line.ID, &line)
	assert.ErrorIs(t, err, ErrNotFound, "committed sessions are immutable")
}

func TestCommitSessionIfDraftExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, draftSession("yacht-1", "sess-1")))

	at := time.Now().UTC().Truncate(time.Second)
	ok, err := s.CommitSessionIfDraft(ctx, "yacht-1", "sess-1", "evt-1", "captain-1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := s.CommitSessionIfDraft(ctx, "yacht-1", "sess-1", "evt-2", "captain-1", at)
	require.NoError(t, err)
	assert.False(t, again, "second commit must lose the race")

	got, err := s.GetSession(ctx, "yacht-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCommitted, got.Status)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "captain-1", got.CommittedBy)
	require.NotNil(t, got.CommittedAt)
}
