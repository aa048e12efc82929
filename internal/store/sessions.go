package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dockhand/internal/types"
)

// NextSessionNumber allocates the next RCV-YYYY-NNN number for the tenant
// and year. The counter row is upserted and incremented in one statement, so
// concurrent allocations never collide.
func (q queries) NextSessionNumber(ctx context.Context, yachtID string, year int) (string, error) {
	var counter int
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO session_counters (yacht_id, year, counter) VALUES (?, ?, 1)
		ON CONFLICT(yacht_id, year) DO UPDATE SET counter = counter + 1
		RETURNING counter`, yachtID, year).Scan(&counter)
	if err != nil {
		return "", fmt.Errorf("failed to allocate session number: %w", err)
	}
	return fmt.Sprintf("RCV-%04d-%03d", year, counter), nil
}

// InsertSession persists a draft session together with its lines.
func (q queries) InsertSession(ctx context.Context, s *types.ReceivingSession) error {
	uploadIDs, err := json.Marshal(s.UploadIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal upload ids: %w", err)
	}
	summary, err := json.Marshal(s.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO receiving_sessions (id, yacht_id, session_number, status,
			created_by, upload_ids, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.YachtID, s.Number, s.Status, s.CreatedBy,
		string(uploadIDs), string(summary), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i := range s.Lines {
		if err := q.insertLine(ctx, s.ID, s.YachtID, &s.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) insertLine(ctx context.Context, sessionID, yachtID string, l *types.LineItem) error {
	var suggestion, discrepancy []byte
	var err error
	if l.Suggestion != nil {
		if suggestion, err = json.Marshal(l.Suggestion); err != nil {
			return fmt.Errorf("failed to marshal suggestion: %w", err)
		}
	}
	if l.Discrepancy != nil {
		if discrepancy, err = json.Marshal(l.Discrepancy); err != nil {
			return fmt.Errorf("failed to marshal discrepancy: %w", err)
		}
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO session_lines (id, session_id, yacht_id, sequence, quantity,
			unit, description, part_number, unit_price, confidence, source,
			raw_text, is_verified, verified_by, verified_at, suggestion, discrepancy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, sessionID, yachtID, l.Sequence, l.Quantity,
		nullableString(l.Unit), l.Description, nullableString(l.PartNumber),
		l.UnitPrice, l.Confidence, l.Source, nullableString(l.RawText),
		boolToInt(l.Verified), nullableString(l.VerifiedBy), l.VerifiedAt,
		nullableString(string(suggestion)), nullableString(string(discrepancy)))
	if err != nil {
		return fmt.Errorf("failed to insert session line: %w", err)
	}
	return nil
}

// GetSession loads a session and its lines, scoped to the tenant.
func (q queries) GetSession(ctx context.Context, yachtID, sessionID string) (*types.ReceivingSession, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, yacht_id, session_number, status, created_by,
			COALESCE(upload_ids, '[]'), COALESCE(summary, '{}'),
			COALESCE(event_id, ''), created_at, committed_at, COALESCE(committed_by, '')
		FROM receiving_sessions WHERE yacht_id = ? AND id = ?`, yachtID, sessionID)

	var s types.ReceivingSession
	var uploadIDs, summary string
	var committedAt sql.NullTime
	err := row.Scan(&s.ID, &s.YachtID, &s.Number, &s.Status, &s.CreatedBy,
		&uploadIDs, &summary, &s.EventID, &s.CreatedAt, &committedAt, &s.CommittedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if committedAt.Valid {
		s.CommittedAt = &committedAt.Time
	}
	if err := json.Unmarshal([]byte(uploadIDs), &s.UploadIDs); err != nil {
		return nil, fmt.Errorf("failed to decode upload ids: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &s.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}

	lines, err := q.ListSessionLines(ctx, yachtID, sessionID)
	if err != nil {
		return nil, err
	}
	s.Lines = lines
	return &s, nil
}

// ListSessionLines returns a session's lines in sequence order.
func (q queries) ListSessionLines(ctx context.Context, yachtID, sessionID string) ([]types.LineItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, quantity, COALESCE(unit, ''),
			description, COALESCE(part_number, ''), COALESCE(unit_price, 0),
			confidence, source, COALESCE(raw_text, ''), is_verified,
			COALESCE(verified_by, ''), verified_at, suggestion, discrepancy
		FROM session_lines
		WHERE yacht_id = ? AND session_id = ?
		ORDER BY sequence`, yachtID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session lines: %w", err)
	}
	defer rows.Close()

	var lines []types.LineItem
	for rows.Next() {
		var l types.LineItem
		var verified int
		var verifiedAt sql.NullTime
		var suggestion, discrepancy sql.NullString
		err := rows.Scan(&l.ID, &l.SessionID, &l.Sequence, &l.Quantity, &l.Unit,
			&l.Description, &l.PartNumber, &l.UnitPrice, &l.Confidence,
			&l.Source, &l.RawText, &verified, &l.VerifiedBy, &verifiedAt,
			&suggestion, &discrepancy)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session line: %w", err)
		}
		l.Verified = verified != 0
		if verifiedAt.Valid {
			l.VerifiedAt = &verifiedAt.Time
		}
		if suggestion.Valid && suggestion.String != "" {
			var sm types.SuggestedMatch
			if err := json.Unmarshal([]byte(suggestion.String), &sm); err == nil {
				l.Suggestion = &sm
			}
		}
		if discrepancy.Valid && discrepancy.String != "" {
			var d types.Discrepancy
			if err := json.Unmarshal([]byte(discrepancy.String), &d); err == nil {
				l.Discrepancy = &d
			}
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateLineVerification records a crew member's verify/unverify decision
// and any corrected fields. Committed sessions reject edits.
func (q queries) UpdateLineVerification(ctx context.Context, yachtID, sessionID, lineID string, l *types.LineItem) error {
	var suggestion []byte
	if l.Suggestion != nil {
		var err error
		if suggestion, err = json.Marshal(l.Suggestion); err != nil {
			return fmt.Errorf("failed to marshal suggestion: %w", err)
		}
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE session_lines
		SET quantity = ?, unit = ?, description = ?, part_number = ?,
			unit_price = ?, is_verified = ?, verified_by = ?, verified_at = ?,
			suggestion = ?
		WHERE yacht_id = ? AND session_id = ? AND id = ?
			AND EXISTS (SELECT 1 FROM receiving_sessions s
				WHERE s.id = session_id AND s.status = 'draft')`,
		l.Quantity, nullableString(l.Unit), l.Description, nullableString(l.PartNumber),
		l.UnitPrice, boolToInt(l.Verified), nullableString(l.VerifiedBy), l.VerifiedAt,
		nullableString(string(suggestion)),
		yachtID, sessionID, lineID)
	if err != nil {
		return fmt.Errorf("failed to update line verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitSessionIfDraft flips the session to committed, recording the actor,
// timestamp, and event id. The conditional WHERE makes concurrent commits
// race safely: exactly one caller sees true.
func (q queries) CommitSessionIfDraft(ctx context.Context, yachtID, sessionID, eventID, actorID string, at time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE receiving_sessions
		SET status = 'committed', event_id = ?, committed_by = ?, committed_at = ?
		WHERE yacht_id = ? AND id = ? AND status = 'draft'`,
		eventID, actorID, at, yachtID, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to commit session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
