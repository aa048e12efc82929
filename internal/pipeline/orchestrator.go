// Package pipeline orchestrates the processing stages between intake and
// draft session: blob staging, OCR, extraction, reconciliation, and session
// persistence. One Run call handles one upload batch for one tenant.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dockhand/internal/config"
	"dockhand/internal/extraction"
	"dockhand/internal/logging"
	"dockhand/internal/ocr"
	"dockhand/internal/reconcile"
	"dockhand/internal/store"
	"dockhand/internal/types"
	"dockhand/internal/usage"
)

// Orchestrator wires the stages together.
type Orchestrator struct {
	store      *store.Store
	blobs      *FileBlobStore
	stager     *TempStager
	ocr        *ocr.Layer
	reconciler *reconcile.Reconciler
	llm        extraction.LLMClient // nil when no provider is configured
	cfg        config.ExtractionConfig
	now        func() time.Time
}

// NewOrchestrator assembles the pipeline. llm may be nil; extraction then
// runs deterministically only.
func NewOrchestrator(s *store.Store, blobs *FileBlobStore, stager *TempStager,
	layer *ocr.Layer, reconciler *reconcile.Reconciler,
	llm extraction.LLMClient, cfg config.ExtractionConfig) *Orchestrator {
	return &Orchestrator{
		store:      s,
		blobs:      blobs,
		stager:     stager,
		ocr:        layer,
		reconciler: reconciler,
		llm:        llm,
		cfg:        cfg,
		now:        time.Now,
	}
}

// fileOutcome is one upload's extraction output.
type fileOutcome struct {
	uploadID string
	result   *extraction.Result
}

// Run processes an admitted batch into one draft receiving session. Files
// are processed concurrently; a single file's failure marks that upload
// failed without sinking its siblings. The session is created only when at
// least one file produced lines or entities.
func (o *Orchestrator) Run(ctx context.Context, yachtID, actorID string, uploads []*types.Upload) (*types.ReceivingSession, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "run_batch")
	defer timer.Stop()

	// One cost tracker per session: every LLM call in the batch draws from
	// the same budget.
	tracker := usage.NewTracker(o.cfg.MaxLLMCallsPerSess, o.cfg.MaxCostPerSession, pricingTable(o.cfg))
	extractor := o.buildExtractor(tracker)

	var mu sync.Mutex
	var outcomes []fileOutcome

	g, gctx := errgroup.WithContext(ctx)
	for _, upload := range uploads {
		up := upload
		g.Go(func() error {
			result, err := o.processFile(gctx, extractor, up)
			if err != nil {
				logging.Get(logging.CategoryPipeline).Error("upload %s failed: %v", up.ID, err)
				if serr := o.store.UpdateUploadStatus(gctx, up.YachtID, up.ID, types.StatusFailed); serr != nil {
					logging.Get(logging.CategoryPipeline).Warn("status update failed for %s: %v", up.ID, serr)
				}
				return nil // sibling files proceed
			}
			mu.Lock()
			outcomes = append(outcomes, fileOutcome{uploadID: up.ID, result: result})
			mu.Unlock()
			return o.store.UpdateUploadStatus(gctx, up.YachtID, up.ID, types.StatusCompleted)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, types.NewPipelineError(types.ErrOCRFailed, "no file in the batch produced a readable document")
	}

	return o.createDraftSession(ctx, yachtID, actorID, uploads, outcomes, tracker)
}

// processFile runs one upload through OCR and extraction.
func (o *Orchestrator) processFile(ctx context.Context, extractor *extraction.Extractor, up *types.Upload) (*extraction.Result, error) {
	if err := o.store.UpdateUploadStatus(ctx, up.YachtID, up.ID, types.StatusProcessing); err != nil {
		return nil, err
	}

	data, err := o.blobs.Get(ctx, up.StoragePath)
	if err != nil {
		return nil, err
	}

	// OCR reads the working copy under temp_uploads/<tenant>/; removed on
	// every exit path, reclaimed by the sweeper if this process dies first.
	tempPath, err := o.stager.Stage(up.YachtID, up.MIMEType, data)
	if err != nil {
		return nil, err
	}
	defer o.stager.Remove(tempPath)

	ocrResult, err := o.ocr.RecognizeFile(ctx, tempPath, up.MIMEType)
	if err != nil {
		return nil, err
	}
	logging.Pipeline("upload %s recognized by %s (confidence %.2f, %d chars)",
		up.ID, ocrResult.Engine, ocrResult.Confidence, len(ocrResult.Text))

	return extractor.Extract(ctx, ocrResult)
}

// createDraftSession merges the per-file outcomes into one draft session,
// reconciles the lines, and persists everything.
func (o *Orchestrator) createDraftSession(ctx context.Context, yachtID, actorID string,
	uploads []*types.Upload, outcomes []fileOutcome, tracker *usage.Tracker) (*types.ReceivingSession, error) {

	var lines []types.LineItem
	var coverageSum float64
	primaryMethod := "regex"
	for _, out := range outcomes {
		lines = append(lines, out.result.Lines...)
		coverageSum += out.result.Coverage
		if out.result.PrimaryMethod == "llm" {
			primaryMethod = "llm"
		}
	}
	// Sequence numbers restart per session, in file order then line order.
	for i := range lines {
		lines[i].ID = uuid.NewString()
		lines[i].Sequence = i + 1
	}

	lines, err := o.reconciler.ReconcileLines(ctx, yachtID, lines)
	if err != nil {
		return nil, err
	}

	now := o.now()
	number, err := o.store.NextSessionNumber(ctx, yachtID, now.Year())
	if err != nil {
		return nil, err
	}

	uploadIDs := make([]string, len(uploads))
	for i, up := range uploads {
		uploadIDs[i] = up.ID
	}

	stats := tracker.Stats()
	session := &types.ReceivingSession{
		ID:        uuid.NewString(),
		YachtID:   yachtID,
		Number:    number,
		Status:    types.SessionDraft,
		CreatedBy: actorID,
		UploadIDs: uploadIDs,
		Lines:     lines,
		Summary: types.ProcessingSummary{
			LinesExtracted: len(lines),
			LLMCalls:       stats.Calls,
			TotalCostUSD:   stats.CostUSD,
			PrimaryMethod:  primaryMethod,
			Coverage:       coverageSum / float64(len(outcomes)),
		},
		CreatedAt: now,
	}
	for i := range session.Lines {
		session.Lines[i].SessionID = session.ID
	}

	if err := o.store.InsertSession(ctx, session); err != nil {
		return nil, err
	}

	logging.Pipeline("draft session %s created for yacht %s: %d lines from %d uploads (method %s, $%.4f)",
		session.Number, yachtID, len(lines), len(uploads), primaryMethod, stats.CostUSD)
	return session, nil
}

func (o *Orchestrator) buildExtractor(tracker *usage.Tracker) *extraction.Extractor {
	controller := extraction.NewController(tracker,
		o.cfg.MiniModel, o.cfg.LargeModel,
		o.cfg.CoverageThreshold, o.cfg.TableConfThreshold, o.cfg.EscalateBelow)

	var normalizer *extraction.Normalizer
	if o.llm != nil {
		normalizer = extraction.NewNormalizer(o.llm, tracker)
	}
	return extraction.NewExtractor(controller, normalizer, tracker)
}

func pricingTable(cfg config.ExtractionConfig) map[string]usage.Pricing {
	table := make(map[string]usage.Pricing, len(cfg.Pricing))
	for model, p := range cfg.Pricing {
		table[model] = usage.Pricing{InputPerToken: p.InputPerToken, OutputPerToken: p.OutputPerToken}
	}
	return table
}
