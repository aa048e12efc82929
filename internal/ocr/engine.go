// Package ocr turns raw image or PDF bytes into a uniform OCR result.
// Engines are pluggable behind the Engine interface; a resettable selector
// picks the highest-priority available engine, and low-confidence results
// fall back to the configured cloud engine.
package ocr

import (
	"context"
	"fmt"
	"os"
	"sync"

	"dockhand/internal/logging"
	"dockhand/internal/types"
)

// Engine is the capability set every OCR backend implements.
type Engine interface {
	// Extract runs OCR over preprocessed image bytes.
	Extract(ctx context.Context, data []byte) (*types.OCRResult, error)
	// Name identifies the engine in results and health reports.
	Name() string
	// HealthCheck verifies the engine's preconditions (binary present,
	// credentials set, endpoint reachable).
	HealthCheck(ctx context.Context) error
}

// Selector resolves the active engine from configured priority. The selection
// is memoized for the process lifetime because some engines are expensive to
// probe; Reset exists so tests can switch engines.
type Selector struct {
	mu       sync.Mutex
	priority []string
	engines  map[string]Engine
	enabled  map[string]bool
	active   Engine
	probed   bool
}

// NewSelector builds a selector over the registered engines.
func NewSelector(priority []string, enabled map[string]bool) *Selector {
	return &Selector{
		priority: priority,
		engines:  make(map[string]Engine),
		enabled:  enabled,
	}
}

// Register adds an engine under its name. Call during startup, before Active.
func (s *Selector) Register(e Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[e.Name()] = e
}

// Active returns the highest-priority engine whose health check passes.
// The answer is memoized until Reset.
func (s *Selector) Active(ctx context.Context) (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probed && s.active != nil {
		return s.active, nil
	}

	for _, name := range s.priority {
		if s.enabled != nil && !s.enabled[name] {
			continue
		}
		e, ok := s.engines[name]
		if !ok {
			continue
		}
		if err := e.HealthCheck(ctx); err != nil {
			logging.OCRDebug("engine %s unavailable: %v", name, err)
			continue
		}
		s.active = e
		s.probed = true
		logging.OCR("selected engine %s", name)
		return e, nil
	}
	s.probed = true
	return nil, types.NewPipelineError(types.ErrOCRFailed, "no OCR engine available")
}

// Get returns a registered engine by name regardless of priority.
func (s *Selector) Get(name string) (Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[name]
	return e, ok
}

// ActiveName reports the memoized engine name, or empty when unprobed.
func (s *Selector) ActiveName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// Reset clears the memoized selection so the next Active call re-probes.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.probed = false
}

// Layer runs preprocessing, the selected engine, and the confidence-gated
// cloud fallback.
type Layer struct {
	selector      *Selector
	pre           *Preprocessor
	fallbackName  string
	fallbackBelow float64
}

// NewLayer assembles the OCR layer.
func NewLayer(selector *Selector, pre *Preprocessor, fallbackName string, fallbackBelow float64) *Layer {
	return &Layer{
		selector:      selector,
		pre:           pre,
		fallbackName:  fallbackName,
		fallbackBelow: fallbackBelow,
	}
}

// Selector exposes the layer's engine selector for health reporting.
func (l *Layer) Selector() *Selector { return l.selector }

// RecognizeFile runs Recognize over a staged working copy on disk.
func (l *Layer) RecognizeFile(ctx context.Context, path, mimeType string) (*types.OCRResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	return l.Recognize(ctx, data, mimeType)
}

// Recognize produces an OCR result for image or PDF bytes. PDFs try embedded
// text first; images run the preprocessing chain and then the active engine.
// When the chosen engine's confidence is under the fallback threshold and a
// cloud fallback is configured, the better of the two results wins.
func (l *Layer) Recognize(ctx context.Context, data []byte, mimeType string) (*types.OCRResult, error) {
	timer := logging.StartTimer(logging.CategoryOCR, "Recognize")
	defer timer.Stop()

	if mimeType == "application/pdf" {
		return l.recognizePDF(ctx, data)
	}

	processed := l.pre.Process(ctx, data)

	engine, err := l.selector.Active(ctx)
	if err != nil {
		return nil, err
	}

	result, err := engine.Extract(ctx, processed)
	if err != nil {
		return l.fallbackAfterError(ctx, processed, engine.Name(), err)
	}

	if result.Confidence < l.fallbackBelow {
		if better := l.tryFallback(ctx, processed, engine.Name()); better != nil {
			if better.Confidence > result.Confidence {
				better.Metadata["low_confidence_primary"] = engine.Name()
				return better, nil
			}
		}
	}
	return result, nil
}

func (l *Layer) recognizePDF(ctx context.Context, data []byte) (*types.OCRResult, error) {
	if text, ok := ExtractPDFText(data); ok {
		return &types.OCRResult{
			Text:       text,
			Confidence: 0.95,
			Engine:     "pdf-text",
			Metadata:   map[string]string{"source": "embedded"},
		}, nil
	}

	// No embedded text: rasterize and OCR page images.
	pages, err := RasterizePDF(ctx, data)
	if err != nil {
		return nil, types.NewPipelineError(types.ErrOCRFailed, "pdf has no text layer and rasterization failed: %v", err)
	}

	engine, err := l.selector.Active(ctx)
	if err != nil {
		return nil, err
	}

	var combined types.OCRResult
	combined.Engine = engine.Name()
	combined.Metadata = map[string]string{"source": "rasterized_pdf"}
	var confSum float64
	for i, page := range pages {
		res, err := engine.Extract(ctx, l.pre.Process(ctx, page))
		if err != nil {
			logging.Get(logging.CategoryOCR).Warn("page %d OCR failed: %v", i+1, err)
			continue
		}
		if combined.Text != "" {
			combined.Text += "\n"
		}
		combined.Text += res.Text
		combined.Fragments = append(combined.Fragments, res.Fragments...)
		confSum += res.Confidence
	}
	if combined.Text == "" {
		return nil, types.NewPipelineError(types.ErrOCRFailed, "no page produced text")
	}
	combined.Confidence = confSum / float64(len(pages))
	return &combined, nil
}

func (l *Layer) tryFallback(ctx context.Context, data []byte, primaryName string) *types.OCRResult {
	if l.fallbackName == "" || l.fallbackName == primaryName {
		return nil
	}
	fb, ok := l.selector.Get(l.fallbackName)
	if !ok {
		return nil
	}
	if err := fb.HealthCheck(ctx); err != nil {
		logging.OCRDebug("fallback %s unavailable: %v", l.fallbackName, err)
		return nil
	}
	res, err := fb.Extract(ctx, data)
	if err != nil {
		logging.Get(logging.CategoryOCR).Warn("fallback %s failed: %v", l.fallbackName, err)
		return nil
	}
	if res.Metadata == nil {
		res.Metadata = map[string]string{}
	}
	return res
}

func (l *Layer) fallbackAfterError(ctx context.Context, data []byte, primaryName string, primaryErr error) (*types.OCRResult, error) {
	res := l.tryFallback(ctx, data, primaryName)
	if res == nil {
		return nil, fmt.Errorf("engine %s: %w", primaryName, primaryErr)
	}
	// Fallback result is authoritative; the primary error rides along as
	// metadata for diagnosis.
	res.Metadata["primary_error"] = primaryErr.Error()
	res.Metadata["primary_engine"] = primaryName
	return res, nil
}
