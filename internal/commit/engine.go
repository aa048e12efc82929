// Package commit turns a verified draft session into its immutable record
// set: one receiving event, inventory and finance transactions, and an audit
// entry, all inside one store transaction. Partial commits cannot survive a
// failure; the transaction rolls everything back.
package commit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dockhand/internal/logging"
	"dockhand/internal/sigil"
	"dockhand/internal/store"
	"dockhand/internal/types"
)

// Request is one commit attempt.
type Request struct {
	SessionID          string
	YachtID            string
	ActorID            string
	Notes              string
	OverrideUnverified bool
}

// InventorySummary aggregates what the commit did to stock.
type InventorySummary struct {
	PartsUpdated        int     `json:"parts_updated"`
	QuantityAdded       float64 `json:"quantity_added"`
	TransactionsCreated int     `json:"transactions_created"`
}

// FinanceSummary aggregates the expense records written.
type FinanceSummary struct {
	TransactionsCreated int     `json:"transactions_created"`
	TotalAmount         float64 `json:"total_amount"`
	Currency            string  `json:"currency"`
}

// Summary is the commit's full outcome.
type Summary struct {
	Event          *types.ReceivingEvent `json:"event"`
	Inventory      InventorySummary      `json:"inventory"`
	Finance        FinanceSummary        `json:"finance"`
	AuditID        string                `json:"audit_id"`
	LowStockAlerts []types.LowStockAlert `json:"low_stock_alerts,omitempty"`
}

// Engine executes commits against the store.
type Engine struct {
	store *store.Store
	now   func() time.Time
}

// NewEngine creates the commit engine.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// Commit runs the full commit sequence. Every write happens inside one
// transaction; the conditional session flip at the end guarantees exactly
// one concurrent committer wins.
func (e *Engine) Commit(ctx context.Context, req Request) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryCommit, "commit_session")
	defer timer.Stop()

	var summary *Summary
	err := e.store.Transact(ctx, func(tx *store.Tx) error {
		var txErr error
		summary, txErr = e.commitInTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	logging.Commit("session %s committed as event %s (%d lines, %d parts updated)",
		req.SessionID, summary.Event.Number, summary.Event.LinesCommitted,
		summary.Inventory.PartsUpdated)
	return summary, nil
}

func (e *Engine) commitInTx(ctx context.Context, tx *store.Tx, req Request) (*Summary, error) {
	lines, err := tx.ListSessionLines(ctx, req.YachtID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, types.NewPipelineError(types.ErrSessionNotFound,
			"no draft session %s for this tenant", req.SessionID)
	}

	unverified := 0
	for _, l := range lines {
		if !l.Verified {
			unverified++
		}
	}
	if unverified > 0 && !req.OverrideUnverified {
		return nil, types.NewPipelineError(types.ErrUnverifiedLines,
			"%d of %d lines are unverified", unverified, len(lines)).
			WithDetail("unverified_count", unverified).
			WithDetail("total_lines", len(lines))
	}

	now := e.now().UTC()
	eventNumber := e.nextEventNumber(ctx, tx, req.YachtID, now)

	lineIDs := make([]string, len(lines))
	for i, l := range lines {
		lineIDs[i] = l.ID
	}
	signature, err := sigil.Sign(map[string]interface{}{
		"session_id": req.SessionID,
		"tenant_id":  req.YachtID,
		"actor_id":   req.ActorID,
		"line_ids":   lineIDs,
		"timestamp":  now,
	})
	if err != nil {
		return nil, fmt.Errorf("sign receiving event: %w", err)
	}

	event := &types.ReceivingEvent{
		ID:             uuid.NewString(),
		YachtID:        req.YachtID,
		SessionID:      req.SessionID,
		Number:         eventNumber,
		CommittedBy:    req.ActorID,
		Notes:          req.Notes,
		LinesCommitted: len(lines),
		Signature:      signature,
		CreatedAt:      now,
	}
	summary := &Summary{Event: event, Finance: FinanceSummary{Currency: "USD"}}
	touchedParts := make(map[string]bool)

	for _, line := range lines {
		if !line.Verified || line.Suggestion == nil {
			continue
		}
		partID := line.Suggestion.PartID

		if err := tx.ApplyInventoryDelta(ctx, req.YachtID, partID, line.Quantity); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return nil, types.NewPipelineError(types.ErrInsufficientStock,
					"inventory update rejected for part %s", line.Suggestion.PartNumber)
			}
			return nil, fmt.Errorf("apply inventory delta for %s: %w", partID, err)
		}

		invTx := &types.InventoryTransaction{
			ID:            uuid.NewString(),
			YachtID:       req.YachtID,
			PartID:        partID,
			QuantityDelta: line.Quantity,
			Kind:          "receiving",
			ReferenceID:   event.ID,
			ReferenceKind: "receiving_event",
			ActorID:       req.ActorID,
			CreatedAt:     now,
		}
		if err := tx.InsertInventoryTransaction(ctx, invTx); err != nil {
			return nil, err
		}

		if line.Suggestion.ShoppingList != nil {
			if err := tx.AddShoppingReceived(ctx, req.YachtID, line.Suggestion.ShoppingList.ItemID, line.Quantity); err != nil {
				logging.Get(logging.CategoryCommit).Warn("shopping-list update failed for item %s: %v",
					line.Suggestion.ShoppingList.ItemID, err)
			}
		}

		touchedParts[partID] = true
		summary.Inventory.QuantityAdded += line.Quantity
		summary.Inventory.TransactionsCreated++
	}
	summary.Inventory.PartsUpdated = len(touchedParts)

	e.recordFinance(ctx, tx, req, event, lines, now, summary)

	// The event row is written once, after finance totals are known.
	if err := tx.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	auditID, err := e.writeAudit(ctx, tx, req, event, now)
	if err != nil {
		return nil, err
	}
	summary.AuditID = auditID

	committed, err := tx.CommitSessionIfDraft(ctx, req.YachtID, req.SessionID, event.ID, req.ActorID, now)
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, types.NewPipelineError(types.ErrSessionCommitted,
			"session %s is no longer a draft", req.SessionID)
	}

	summary.LowStockAlerts = e.lowStockAlerts(ctx, tx, req.YachtID, touchedParts)
	return summary, nil
}

// nextEventNumber allocates RCV-EVT-YYYY-NNN from the per-tenant event
// count. A counting failure falls back to epoch seconds, which stays unique
// without blocking the commit.
func (e *Engine) nextEventNumber(ctx context.Context, tx *store.Tx, yachtID string, now time.Time) string {
	count, err := tx.CountEventsInYear(ctx, yachtID, now.Year())
	if err != nil {
		logging.Get(logging.CategoryCommit).Warn("event count failed, using epoch fallback: %v", err)
		return fmt.Sprintf("RCV-EVT-%04d-%d", now.Year(), now.Unix())
	}
	return fmt.Sprintf("RCV-EVT-%04d-%03d", now.Year(), count+1)
}

// recordFinance writes an expense row per priced line. Finance failures are
// logged and skipped; the commit proceeds without them.
func (e *Engine) recordFinance(ctx context.Context, tx *store.Tx, req Request,
	event *types.ReceivingEvent, lines []types.LineItem, now time.Time, summary *Summary) {
	for _, line := range lines {
		if !line.Verified || line.UnitPrice <= 0 {
			continue
		}
		amount := line.Quantity * line.UnitPrice

		signature, err := sigil.Sign(map[string]interface{}{
			"event_id":  event.ID,
			"tenant_id": req.YachtID,
			"actor_id":  req.ActorID,
			"amount":    amount,
			"currency":  "USD",
			"timestamp": now,
		})
		if err != nil {
			logging.Get(logging.CategoryCommit).Warn("finance signature failed for line %s: %v", line.ID, err)
			continue
		}

		finTx := &types.FinanceTransaction{
			ID:        uuid.NewString(),
			YachtID:   req.YachtID,
			EventID:   event.ID,
			Kind:      "expense",
			Category:  "receiving",
			Amount:    amount,
			Currency:  "USD",
			ActorID:   req.ActorID,
			Signature: signature,
			CreatedAt: now,
		}
		if err := tx.InsertFinanceTransaction(ctx, finTx); err != nil {
			logging.Get(logging.CategoryCommit).Warn("finance insert failed for line %s: %v", line.ID, err)
			continue
		}
		summary.Finance.TransactionsCreated++
		summary.Finance.TotalAmount += amount
	}
	event.TotalCost = summary.Finance.TotalAmount
}

func (e *Engine) writeAudit(ctx context.Context, tx *store.Tx, req Request,
	event *types.ReceivingEvent, now time.Time) (string, error) {
	oldValue, _ := json.Marshal(map[string]interface{}{"status": "draft"})
	newValue, _ := json.Marshal(map[string]interface{}{
		"status":          "committed",
		"event_id":        event.ID,
		"lines_committed": event.LinesCommitted,
	})

	signature, err := sigil.Sign(map[string]interface{}{
		"tenant_id":   req.YachtID,
		"actor_id":    req.ActorID,
		"action":      "commit_receiving_session",
		"entity_kind": "receiving_session",
		"entity_id":   req.SessionID,
		"new_value":   string(newValue),
		"timestamp":   now,
	})
	if err != nil {
		return "", fmt.Errorf("sign audit entry: %w", err)
	}

	entry := &types.AuditEntry{
		ID:         uuid.NewString(),
		YachtID:    req.YachtID,
		ActorID:    req.ActorID,
		Action:     "commit_receiving_session",
		EntityKind: "receiving_session",
		EntityID:   req.SessionID,
		OldValue:   string(oldValue),
		NewValue:   string(newValue),
		Signature:  signature,
		CreatedAt:  now,
	}
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// lowStockAlerts reads back every touched part and flags those left under
// their minimum. Alert failures are advisory; a read error just drops the
// alert.
func (e *Engine) lowStockAlerts(ctx context.Context, tx *store.Tx, yachtID string, partIDs map[string]bool) []types.LowStockAlert {
	var alerts []types.LowStockAlert
	for partID := range partIDs {
		part, err := tx.GetPart(ctx, yachtID, partID)
		if err != nil {
			logging.Get(logging.CategoryCommit).Warn("low-stock read failed for part %s: %v", partID, err)
			continue
		}
		if part.QuantityOnHand < part.MinimumQuantity {
			alerts = append(alerts, types.LowStockAlert{
				PartID:          part.ID,
				PartNumber:      part.PartNumber,
				QuantityOnHand:  part.QuantityOnHand,
				MinimumQuantity: part.MinimumQuantity,
				Shortage:        part.MinimumQuantity - part.QuantityOnHand,
			})
		}
	}
	return alerts
}

// VerifyEventSignature recomputes a stored event's signature from its line
// ids and flags divergence as an integrity failure.
func (e *Engine) VerifyEventSignature(ctx context.Context, yachtID, eventID string) error {
	event, err := e.store.GetEvent(ctx, yachtID, eventID)
	if err != nil {
		return err
	}
	lines, err := e.store.ListSessionLines(ctx, yachtID, event.SessionID)
	if err != nil {
		return err
	}
	lineIDs := make([]string, len(lines))
	for i, l := range lines {
		lineIDs[i] = l.ID
	}

	ok, err := sigil.Verify(map[string]interface{}{
		"session_id": event.SessionID,
		"tenant_id":  event.YachtID,
		"actor_id":   event.CommittedBy,
		"line_ids":   lineIDs,
		"timestamp":  event.CreatedAt.UTC(),
	}, event.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewPipelineError(types.ErrSignatureMismatch,
			"event %s signature does not match its content", event.Number)
	}
	return nil
}
