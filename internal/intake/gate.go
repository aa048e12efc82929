// Package intake is the gate in front of the pipeline: it validates files,
// scores image quality, deduplicates by content hash, enforces the per-tenant
// rate limit, and records accepted uploads exactly once.
package intake

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"dockhand/internal/logging"
	"dockhand/internal/sigil"
	"dockhand/internal/types"
)

// UploadRepo is the slice of the store the gate consumes.
type UploadRepo interface {
	InsertUpload(ctx context.Context, u *types.Upload) (string, error)
	FindUploadByTenantSHA(ctx context.Context, yachtID, sha string) (*types.Upload, error)
	CountUploadsSince(ctx context.Context, yachtID string, since time.Time) (int, error)
}

// BlobStore persists raw upload bytes under a storage path.
type BlobStore interface {
	Put(ctx context.Context, storagePath string, data []byte) error
}

// Options are the intake knobs, mirroring config.IntakeConfig.
type Options struct {
	MaxFileSizeBytes    int64
	MinImageWidth       int
	MinImageHeight      int
	DQSThreshold        float64
	Weights             QualityWeights
	GlarePixelThreshold int
	MaxUploadsPerHour   int
	RateLimitWindow     time.Duration
}

// Gate validates and records uploads for one tenant at a time.
type Gate struct {
	repo  UploadRepo
	blobs BlobStore
	opts  Options
	now   func() time.Time
}

// NewGate builds an intake gate over the given repositories.
func NewGate(repo UploadRepo, blobs BlobStore, opts Options) *Gate {
	return &Gate{repo: repo, blobs: blobs, opts: opts, now: time.Now}
}

// Submission is one file offered to the gate.
type Submission struct {
	YachtID  string
	ActorID  string
	Filename string
	MIMEType string
	Kind     types.UploadKind
	Data     []byte
}

// Result is the per-file outcome the API reports.
type Result struct {
	Upload      *types.Upload `json:"upload"`
	IsDuplicate bool          `json:"is_duplicate"`
}

// mimeAllowLists maps upload kinds to the MIME types they may carry.
var mimeAllowLists = map[types.UploadKind][]string{
	types.UploadReceiving:     {"image/jpeg", "image/png", "image/heic", "application/pdf"},
	types.UploadShippingLabel: {"image/jpeg", "image/png", "image/heic", "application/pdf"},
	types.UploadDiscrepancy:   {"image/jpeg", "image/png", "image/heic"},
	types.UploadPartPhoto:     {"image/jpeg", "image/png", "image/heic"},
	types.UploadFinance:       {"image/jpeg", "image/png", "application/pdf"},
}

// Admit runs the full gate for one file: rate limit, validation, dedupe,
// blob write, and upload record insert. Validation failures are terminal for
// this file only; siblings in the same request proceed independently.
func (g *Gate) Admit(ctx context.Context, sub Submission) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryIntake, "Admit")
	defer timer.Stop()

	if err := g.enforceRateLimit(ctx, sub.YachtID); err != nil {
		return nil, err
	}

	quality, err := g.Validate(sub)
	if err != nil {
		return nil, err
	}

	sha := sigil.HashBytes(sub.Data)

	// Dedupe before writing anything: identical bytes resolve to the
	// existing record. The unique (tenant, sha) index in the store backs
	// this up under concurrency; losers of the insert race re-read.
	existing, err := g.repo.FindUploadByTenantSHA(ctx, sub.YachtID, sha)
	if err == nil && existing != nil {
		logging.Intake("duplicate upload for tenant %s, sha %s -> %s", sub.YachtID, sha[:12], existing.ID)
		return &Result{Upload: existing, IsDuplicate: true}, nil
	}

	sanitized := SanitizeFilename(sub.Filename)
	now := g.now()
	upload := &types.Upload{
		ID:          uuid.NewString(),
		YachtID:     sub.YachtID,
		UploaderID:  sub.ActorID,
		Filename:    sub.Filename,
		MIMEType:    sub.MIMEType,
		SizeBytes:   int64(len(sub.Data)),
		SHA256:      sha,
		StoragePath: storagePath(sub.YachtID, sub.Kind, now, sanitized),
		Kind:        sub.Kind,
		Status:      types.StatusQueued,
		Quality:     quality,
		CreatedAt:   now,
	}

	if err := g.blobs.Put(ctx, upload.StoragePath, sub.Data); err != nil {
		return nil, fmt.Errorf("store upload bytes: %w", err)
	}

	id, err := g.repo.InsertUpload(ctx, upload)
	if err != nil {
		// A concurrent identical upload may have won the unique index; the
		// winner's row is the answer.
		if winner, ferr := g.repo.FindUploadByTenantSHA(ctx, sub.YachtID, sha); ferr == nil && winner != nil {
			return &Result{Upload: winner, IsDuplicate: true}, nil
		}
		return nil, fmt.Errorf("insert upload record: %w", err)
	}
	upload.ID = id

	logging.Intake("admitted %s (%s, %d bytes) for tenant %s as %s",
		sanitized, sub.MIMEType, upload.SizeBytes, sub.YachtID, id)
	return &Result{Upload: upload}, nil
}

// Validate applies size, type, dimension, and quality checks. For image
// kinds it returns the computed quality metrics.
func (g *Gate) Validate(sub Submission) (*types.QualityMetrics, error) {
	if int64(len(sub.Data)) > g.opts.MaxFileSizeBytes {
		return nil, types.NewPipelineError(types.ErrFileTooLarge,
			"file is %d bytes, limit is %d", len(sub.Data), g.opts.MaxFileSizeBytes).
			WithDetail("size_bytes", len(sub.Data)).
			WithDetail("max_bytes", g.opts.MaxFileSizeBytes)
	}

	if !mimeAllowed(sub.Kind, sub.MIMEType) {
		return nil, types.NewPipelineError(types.ErrInvalidFileType,
			"%s is not accepted for %s uploads", sub.MIMEType, sub.Kind).
			WithDetail("mime_type", sub.MIMEType).
			WithDetail("upload_kind", string(sub.Kind))
	}

	if !strings.HasPrefix(sub.MIMEType, "image/") || sub.MIMEType == "image/heic" {
		// PDFs and HEIC (converted later in preprocessing) skip the pixel
		// checks here.
		return nil, nil
	}

	w, h, err := imageDimensions(sub.Data)
	if err != nil {
		return nil, types.NewPipelineError(types.ErrInvalidImage, "cannot decode image: %v", err)
	}
	if w < g.opts.MinImageWidth || h < g.opts.MinImageHeight {
		return nil, types.NewPipelineError(types.ErrImageTooSmall,
			"image is %dx%d, minimum is %dx%d", w, h, g.opts.MinImageWidth, g.opts.MinImageHeight).
			WithDetail("width", w).WithDetail("height", h)
	}

	quality, err := ScoreQuality(sub.Data, g.opts.Weights, g.opts.GlarePixelThreshold)
	if err != nil {
		return nil, types.NewPipelineError(types.ErrInvalidImage, "cannot score image: %v", err)
	}
	if quality.DQS < g.opts.DQSThreshold {
		// A rejection always tells the user what to fix: fall back to the
		// weakest metric when no single one stands out.
		feedback := quality.Feedback
		if feedback == "" {
			feedback = worstHint(quality.Blur, quality.Glare, quality.Contrast)
		}
		return nil, types.NewPipelineError(types.ErrImageQualityLow,
			"document quality score %.1f is below threshold %.1f", quality.DQS, g.opts.DQSThreshold).
			WithDetail("dqs", quality.DQS).
			WithDetail("threshold", g.opts.DQSThreshold).
			WithDetail("feedback", feedback)
	}
	return quality, nil
}

// enforceRateLimit counts recent uploads in the sliding window. A transient
// repository failure admits the request: availability is preferred over
// strict enforcement for the counter read.
func (g *Gate) enforceRateLimit(ctx context.Context, yachtID string) error {
	if g.opts.MaxUploadsPerHour <= 0 {
		return nil
	}
	since := g.now().Add(-g.opts.RateLimitWindow)
	count, err := g.repo.CountUploadsSince(ctx, yachtID, since)
	if err != nil {
		logging.Get(logging.CategoryIntake).Warn("rate-limit count failed for %s, admitting: %v", yachtID, err)
		return nil
	}
	if count >= g.opts.MaxUploadsPerHour {
		return &types.RateLimitError{
			CurrentCount: count,
			Limit:        g.opts.MaxUploadsPerHour,
			RetryAfter:   g.opts.RateLimitWindow,
		}
	}
	return nil
}

func mimeAllowed(kind types.UploadKind, mime string) bool {
	allowed, ok := mimeAllowLists[kind]
	if !ok {
		return false
	}
	for _, m := range allowed {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// storagePath builds <tenant>/<kind>/<YYYY>/<MM>/<uuid>_<sanitized_name>.
func storagePath(yachtID string, kind types.UploadKind, now time.Time, sanitized string) string {
	return path.Join(
		yachtID,
		string(kind),
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		uuid.NewString()+"_"+sanitized,
	)
}
