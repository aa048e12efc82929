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

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// InsertUpload persists an accepted upload and returns its id. The unique
// (yacht_id, sha256) index makes concurrent duplicate submissions lose
// cleanly; callers detect the conflict and re-read the winner.
func (q queries) InsertUpload(ctx context.Context, u *types.Upload) (string, error) {
	var quality []byte
	if u.Quality != nil {
		var err error
		quality, err = json.Marshal(u.Quality)
		if err != nil {
			return "", fmt.Errorf("failed to marshal quality metrics: %w", err)
		}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO uploads (id, yacht_id, uploader_id, filename, mime_type,
			size_bytes, sha256, storage_path, kind, status, quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.YachtID, u.UploaderID, u.Filename, u.MIMEType,
		u.SizeBytes, u.SHA256, u.StoragePath, u.Kind, u.Status,
		nullableString(string(quality)), u.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert upload: %w", err)
	}
	return u.ID, nil
}

// FindUploadByTenantSHA returns the upload with the given content hash for
// the tenant, or ErrNotFound.
func (q queries) FindUploadByTenantSHA(ctx context.Context, yachtID, sha256 string) (*types.Upload, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, yacht_id, uploader_id, filename, mime_type, size_bytes,
			sha256, storage_path, kind, status, quality, created_at
		FROM uploads WHERE yacht_id = ? AND sha256 = ?`, yachtID, sha256)
	return scanUpload(row)
}

// GetUpload fetches one upload scoped to its tenant.
func (q queries) GetUpload(ctx context.Context, yachtID, id string) (*types.Upload, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, yacht_id, uploader_id, filename, mime_type, size_bytes,
			sha256, storage_path, kind, status, quality, created_at
		FROM uploads WHERE yacht_id = ? AND id = ?`, yachtID, id)
	return scanUpload(row)
}

// CountUploadsSince counts a tenant's uploads inside the rate-limit window.
func (q queries) CountUploadsSince(ctx context.Context, yachtID string, since time.Time) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM uploads WHERE yacht_id = ? AND created_at >= ?`,
		yachtID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return count, nil
}

// UpdateUploadStatus moves an upload through the processing lifecycle.
func (q queries) UpdateUploadStatus(ctx context.Context, yachtID, id string, status types.ProcessingStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE uploads SET status = ? WHERE yacht_id = ? AND id = ?`,
		status, yachtID, id)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUpload(row *sql.Row) (*types.Upload, error) {
	var u types.Upload
	var quality sql.NullString
	err := row.Scan(&u.ID, &u.YachtID, &u.UploaderID, &u.Filename, &u.MIMEType,
		&u.SizeBytes, &u.SHA256, &u.StoragePath, &u.Kind, &u.Status,
		&quality, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}
	if quality.Valid && quality.String != "" {
		var m types.QualityMetrics
		if err := json.Unmarshal([]byte(quality.String), &m); err == nil {
			u.Quality = &m
		}
	}
	return &u, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
