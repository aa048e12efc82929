package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/sigil"
	"dockhand/internal/types"
)

func shaOf(t *testing.T, data []byte) string {
	t.Helper()
	return sigil.HashBytes(data)
}

type fakeRepo struct {
	uploads   map[string]*types.Upload // keyed on yacht|sha
	count     int
	countErr  error
	insertErr error
	inserted  []*types.Upload
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{uploads: make(map[string]*types.Upload)}
}

func (r *fakeRepo) InsertUpload(ctx context.Context, u *types.Upload) (string, error) {
	if r.insertErr != nil {
		return "", r.insertErr
	}
	r.inserted = append(r.inserted, u)
	r.uploads[u.YachtID+"|"+u.SHA256] = u
	return u.ID, nil
}

func (r *fakeRepo) FindUploadByTenantSHA(ctx context.Context, yachtID, sha string) (*types.Upload, error) {
	if u, ok := r.uploads[yachtID+"|"+sha]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func (r *fakeRepo) CountUploadsSince(ctx context.Context, yachtID string, since time.Time) (int, error) {
	return r.count, r.countErr
}

type fakeBlobs struct {
	puts map[string][]byte
	err  error
}

func (b *fakeBlobs) Put(ctx context.Context, path string, data []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[path] = data
	return nil
}

func testOptions() Options {
	return Options{
		MaxFileSizeBytes:    15 * 1024 * 1024,
		MinImageWidth:       800,
		MinImageHeight:      600,
		DQSThreshold:        70,
		Weights:             defaultWeights,
		GlarePixelThreshold: 250,
		MaxUploadsPerHour:   50,
		RateLimitWindow:     time.Hour,
	}
}

func pdfSubmission(data []byte) Submission {
	return Submission{
		YachtID:  "yacht-1",
		ActorID:  "crew-1",
		Filename: "slip.pdf",
		MIMEType: "application/pdf",
		Kind:     types.UploadReceiving,
		Data:     data,
	}
}

func TestAdmitAcceptsPDF(t *testing.T) {
	repo := newFakeRepo()
	blobs := &fakeBlobs{}
	gate := NewGate(repo, blobs, testOptions())

	result, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 test")))
	require.NoError(t, err)
	require.NotNil(t, result.Upload)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, types.StatusQueued, result.Upload.Status)
	assert.Len(t, blobs.puts, 1)

	// Stored bytes hash back to the recorded sha.
	stored := blobs.puts[result.Upload.StoragePath]
	require.NotNil(t, stored)
}

func TestAdmitDeduplicatesBySHA(t *testing.T) {
	repo := newFakeRepo()
	gate := NewGate(repo, &fakeBlobs{}, testOptions())

	first, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 same")))
	require.NoError(t, err)

	second, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 same")))
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.Upload.ID, second.Upload.ID)
	assert.Len(t, repo.inserted, 1, "duplicate must not insert a second record")
}

func TestAdmitInsertRaceReadsWinner(t *testing.T) {
	repo := newFakeRepo()
	gate := NewGate(repo, &fakeBlobs{}, testOptions())

	// Simulate losing the unique-index race: insert fails but the winner's
	// row is readable.
	winner := &types.Upload{ID: "winner-id", YachtID: "yacht-1"}
	repo.insertErr = errors.New("UNIQUE constraint failed")
	sha := shaOf(t, []byte("%PDF-1.4 race"))
	repo.uploads["yacht-1|"+sha] = winner

	result, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 race")))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, "winner-id", result.Upload.ID)
}

func TestValidateSizeBoundary(t *testing.T) {
	opts := testOptions()
	opts.MaxFileSizeBytes = 100
	gate := NewGate(newFakeRepo(), &fakeBlobs{}, opts)

	atLimit := pdfSubmission(make([]byte, 100))
	if _, err := gate.Validate(atLimit); err != nil {
		t.Errorf("file at the exact limit must pass: %v", err)
	}

	over := pdfSubmission(make([]byte, 101))
	_, err := gate.Validate(over)
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrFileTooLarge, perr.Code)
}

func TestValidateRejectsWrongMIME(t *testing.T) {
	gate := NewGate(newFakeRepo(), &fakeBlobs{}, testOptions())

	sub := pdfSubmission([]byte("data"))
	sub.MIMEType = "text/html"
	_, err := gate.Validate(sub)
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrInvalidFileType, perr.Code)

	// PDFs are not accepted for part photos.
	sub = pdfSubmission([]byte("data"))
	sub.Kind = types.UploadPartPhoto
	_, err = gate.Validate(sub)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrInvalidFileType, perr.Code)
}

func TestValidateLowQualityAlwaysCarriesFeedback(t *testing.T) {
	gate := NewGate(newFakeRepo(), &fakeBlobs{}, testOptions())

	// Uniform mid-gray: blur 0, contrast 0, glare 100 -> DQS 30, well
	// under the 70 threshold.
	sub := Submission{
		YachtID:  "yacht-1",
		ActorID:  "crew-1",
		Filename: "flat.png",
		MIMEType: "image/png",
		Kind:     types.UploadReceiving,
		Data:     encodePNG(t, uniformImage(800, 600, 128)),
	}

	_, err := gate.Validate(sub)
	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrImageQualityLow, perr.Code)
	feedback, ok := perr.Details["feedback"].(string)
	require.True(t, ok, "rejection must carry a feedback detail")
	assert.NotEmpty(t, feedback)
}

func TestRateLimitBoundary(t *testing.T) {
	repo := newFakeRepo()
	gate := NewGate(repo, &fakeBlobs{}, testOptions())

	repo.count = 49
	if _, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 a"))); err != nil {
		t.Fatalf("49 prior uploads must admit: %v", err)
	}

	repo.count = 50
	_, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 b")))
	var rl *types.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 50, rl.CurrentCount)
	assert.Equal(t, 50, rl.Limit)
	assert.Equal(t, time.Hour, rl.RetryAfter)
}

func TestRateLimitCountFailureAdmits(t *testing.T) {
	repo := newFakeRepo()
	repo.count = 9999
	repo.countErr = errors.New("database locked")
	gate := NewGate(repo, &fakeBlobs{}, testOptions())

	// A transient counter failure must not block uploads.
	_, err := gate.Admit(context.Background(), pdfSubmission([]byte("%PDF-1.4 c")))
	assert.NoError(t, err)
}

func TestStoragePathLayout(t *testing.T) {
	now := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)
	p := storagePath("yacht-9", types.UploadReceiving, now, "slip.pdf")
	assert.Regexp(t, `^yacht-9/receiving/2026/07/[0-9a-f-]{36}_slip\.pdf$`, p)
}
