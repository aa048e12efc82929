package extraction

import (
	"context"

	"golang.org/x/sync/errgroup"

	"dockhand/internal/logging"
	"dockhand/internal/types"
	"dockhand/internal/usage"
)

// Result is everything extraction produced for one document.
type Result struct {
	Classification types.Classification    `json:"classification"`
	Table          TableDetection          `json:"table"`
	Entities       types.ExtractedEntities `json:"entities"`
	Lines          []types.LineItem        `json:"lines"`
	Coverage       float64                 `json:"coverage"`
	PrimaryMethod  string                  `json:"primary_method"` // "regex" or "llm"
	LLMCalls       int                     `json:"llm_calls"`
	CostUSD        float64                 `json:"cost_usd"`
	NeedsReview    bool                    `json:"needs_review"`
	Notes          string                  `json:"notes,omitempty"`
}

// Extractor runs the full extraction stage for one OCR result.
type Extractor struct {
	controller *Controller
	normalizer *Normalizer
	tracker    *usage.Tracker
}

// NewExtractor wires the stage. normalizer may be nil when no LLM is
// configured; the controller's invoke decisions then degrade to partial.
func NewExtractor(controller *Controller, normalizer *Normalizer, tracker *usage.Tracker) *Extractor {
	return &Extractor{controller: controller, normalizer: normalizer, tracker: tracker}
}

// Extract classifies the document, detects table structure, parses rows
// deterministically, and asks the cost controller whether to spend LLM
// budget on the remainder.
func (e *Extractor) Extract(ctx context.Context, ocr *types.OCRResult) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryExtraction, "extract")
	defer timer.Stop()

	var (
		classification types.Classification
		table          TableDetection
		entities       types.ExtractedEntities
		parsed         ParseResult
	)

	// The three analyses are independent reads of the same text.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		classification = Classify(ocr.Text)
		return nil
	})
	g.Go(func() error {
		table = DetectTable(ocr)
		entities = ExtractEntities(ocr.Text)
		return nil
	})
	g.Go(func() error {
		parsed = ParseRows(ocr.Text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Classification: classification,
		Table:          table,
		Entities:       entities,
		Lines:          parsed.Lines,
		Coverage:       parsed.Coverage,
		PrimaryMethod:  "regex",
	}

	attempts := 0
	lastConfidence := 0.0
	for {
		decision := e.controller.DecideNextAction(result.Coverage, table.Confidence, attempts, lastConfidence)
		logging.Extraction("cost controller: %s (%s), coverage=%.2f attempts=%d",
			decision.Action, decision.Reason, result.Coverage, attempts)

		switch decision.Action {
		case ActionReturnResults:
			e.finish(result)
			return result, nil

		case ActionReturnPartial:
			result.NeedsReview = true
			e.finish(result)
			return result, nil

		case ActionInvokeLLM:
			if e.normalizer == nil {
				result.NeedsReview = true
				result.Notes = "LLM not configured"
				e.finish(result)
				return result, nil
			}
			attempts++
			norm, err := e.normalizer.Normalize(ctx, ocr.Text, *decision.Plan)
			if err != nil {
				logging.Get(logging.CategoryExtraction).Warn("LLM attempt %d failed: %v", attempts, err)
				lastConfidence = 0
				continue
			}
			lastConfidence = norm.Confidence
			if len(norm.Lines) > len(result.Lines) {
				result.Lines = norm.Lines
				result.PrimaryMethod = "llm"
				result.Notes = norm.Notes
				if parsed.LineCount > 0 {
					result.Coverage = float64(len(norm.Lines)) / float64(parsed.LineCount)
					if result.Coverage > 1.0 {
						result.Coverage = 1.0
					}
				}
			}
		}
	}
}

func (e *Extractor) finish(result *Result) {
	stats := e.tracker.Stats()
	result.LLMCalls = stats.Calls
	result.CostUSD = stats.CostUSD
	logging.Extraction("extraction complete: kind=%s lines=%d coverage=%.2f method=%s llm_calls=%d cost=$%.4f",
		result.Classification.Kind, len(result.Lines), result.Coverage,
		result.PrimaryMethod, result.LLMCalls, result.CostUSD)
}
