package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"dockhand/internal/logging"
	"dockhand/internal/types"
	"dockhand/internal/usage"
)

// LLMClient is the minimal interface the normalizer uses to call a model.
// The genai-backed implementation lives below; tests substitute their own.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is one structured-output call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the text plus the token accounting the cost
// tracker needs.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// GeminiClient implements LLMClient over the Google GenAI API.
type GeminiClient struct {
	client      *genai.Client
	callTimeout time.Duration
}

// NewGeminiClient creates the client. The API key is required.
func NewGeminiClient(ctx context.Context, apiKey string, callTimeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, callTimeout: callTimeout}, nil
}

// Complete sends one JSON-mode generation request with a hard deadline.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		MaxOutputTokens:  int32(req.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	result, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	resp := &CompletionResponse{Text: result.Text()}
	if result.UsageMetadata != nil {
		resp.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// normalizerPrompt demands JSON only; extraction_notes gives the model a
// place to put caveats without corrupting the line array.
const normalizerPrompt = `You are a receiving clerk digitizing a shipping document. Extract every line item from the OCR text below.

Respond with JSON only, matching exactly this schema:
{"lines": [{"quantity": <number>, "unit": "<string>", "description": "<string>", "part_number": "<string, optional>", "confidence": <0..1, optional>}], "extraction_notes": "<string>"}

Rules:
- quantity must be a positive number
- unit should be one of: ea, pcs, box, case, lbs, kg, g, ft, m, gal, L (best guess if unclear)
- description is the item text as printed
- part_number only when one is clearly printed
- skip headers, footers, addresses, totals

OCR TEXT:
%s`

const (
	// Truncation bounds approximating the 2,000-token prompt ceiling.
	truncateHeadChars = 6000
	truncateTailChars = 2000
)

// llmResponse is the schema the prompt demands.
type llmResponse struct {
	Lines []struct {
		Quantity    float64 `json:"quantity"`
		Unit        string  `json:"unit"`
		Description string  `json:"description"`
		PartNumber  string  `json:"part_number"`
		Confidence  float64 `json:"confidence"`
	} `json:"lines"`
	ExtractionNotes string `json:"extraction_notes"`
}

// Normalizer invokes the LLM and validates its output with the same rules
// as the deterministic parser.
type Normalizer struct {
	client  LLMClient
	tracker *usage.Tracker
}

// NewNormalizer wires the normalizer to its client and the session tracker.
func NewNormalizer(client LLMClient, tracker *usage.Tracker) *Normalizer {
	return &Normalizer{client: client, tracker: tracker}
}

// NormalizeResult is one LLM attempt's outcome.
type NormalizeResult struct {
	Lines      []types.LineItem
	Confidence float64
	Notes      string
}

// Normalize truncates the text, calls the model with retry, and validates
// the returned lines. Invalid lines are dropped, not fatal.
func (n *Normalizer) Normalize(ctx context.Context, text string, plan LLMPlan) (*NormalizeResult, error) {
	prompt := fmt.Sprintf(normalizerPrompt, TruncateForPrompt(text))

	resp, err := n.completeWithRetry(ctx, CompletionRequest{
		Model:       plan.Model,
		Prompt:      prompt,
		MaxTokens:   plan.MaxTokens,
		Temperature: plan.Temperature,
	})
	if err != nil {
		return nil, err
	}

	n.tracker.Record(plan.Model, resp.InputTokens, resp.OutputTokens)

	parsed, err := parseLLMResponse(resp.Text)
	if err != nil {
		return nil, types.NewPipelineError(types.ErrNormalization, "LLM returned unparseable output: %v", err)
	}

	result := &NormalizeResult{Notes: parsed.ExtractionNotes}
	var confSum float64
	confN := 0
	seq := 0
	for _, l := range parsed.Lines {
		item, ok := normalizeRow(rawRow{
			qty:  fmt.Sprintf("%g", l.Quantity),
			unit: l.Unit,
			desc: l.Description,
			part: l.PartNumber,
		}, l.Description)
		if !ok {
			continue
		}
		seq++
		item.Sequence = seq
		item.Source = "llm"
		result.Lines = append(result.Lines, item)
		if l.Confidence > 0 {
			confSum += l.Confidence
			confN++
		}
	}
	if confN > 0 {
		result.Confidence = confSum / float64(confN)
	} else if len(result.Lines) > 0 {
		result.Confidence = 0.7 // model omitted per-line confidence
	}

	logging.Extraction("LLM normalize via %s: %d lines kept of %d returned",
		plan.Model, len(result.Lines), len(parsed.Lines))
	return result, nil
}

// completeWithRetry retries rate-limit and transient API errors up to three
// attempts with exponential backoff in the 2-10s band.
func (n *Normalizer) completeWithRetry(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(2<<uint(attempt-1)) * time.Second // 2s, 4s
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := n.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		logging.Get(logging.CategoryExtraction).Warn("LLM attempt %d failed, retrying: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("LLM call failed after retries: %w", lastErr)
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "quota", "timeout", "deadline", "unavailable", "503", "500", "connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// TruncateForPrompt keeps the first 6,000 characters plus the last 2,000
// when the text exceeds the prompt budget; line items cluster at both ends
// of real documents, the middle is usually boilerplate.
func TruncateForPrompt(text string) string {
	if len(text) <= truncateHeadChars+truncateTailChars {
		return text
	}
	return text[:truncateHeadChars] + "\n...\n" + text[len(text)-truncateTailChars:]
}

// parseLLMResponse tolerates markdown fences around the JSON body.
func parseLLMResponse(text string) (*llmResponse, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var parsed llmResponse
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}
