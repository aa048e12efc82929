package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dockhand/internal/types"
)

// CloudEngine posts images to a hosted OCR service. The wire contract is a
// JSON envelope with a base64 image in and text, confidence, and line boxes
// out; the request is retried on 429 and transport errors with exponential
// backoff.
type CloudEngine struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewCloudEngine builds the cloud OCR client.
func NewCloudEngine(endpoint, apiKey string, timeout time.Duration) *CloudEngine {
	return &CloudEngine{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *CloudEngine) Name() string { return "cloud" }

// HealthCheck requires configured credentials; the endpoint itself is only
// exercised on real calls to avoid spending quota on probes.
func (e *CloudEngine) HealthCheck(ctx context.Context) error {
	if e.endpoint == "" {
		return fmt.Errorf("cloud OCR endpoint not configured")
	}
	if e.apiKey == "" {
		return fmt.Errorf("cloud OCR api key not configured")
	}
	return nil
}

type cloudRequest struct {
	ImageBase64 string `json:"image_base64"`
	Features    string `json:"features"`
}

type cloudResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	CostUSD    float64 `json:"cost_usd"`
	Lines      []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Box        [4]int  `json:"box"` // x1,y1,x2,y2
	} `json:"lines"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the image and maps the response onto the uniform result.
func (e *CloudEngine) Extract(ctx context.Context, data []byte) (*types.OCRResult, error) {
	start := time.Now()

	reqBody := cloudRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		Features:    "document_text",
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Retry loop for 429 and transport errors.
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloud OCR failed with status %d: %s", resp.StatusCode, string(body))
		}

		var parsed cloudResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("cloud OCR error: %s", parsed.Error.Message)
		}

		result := &types.OCRResult{
			Text:           parsed.Text,
			Confidence:     parsed.Confidence,
			Engine:         e.Name(),
			ProcessingTime: time.Since(start),
			Metadata: map[string]string{
				"cost_usd": fmt.Sprintf("%.6f", parsed.CostUSD),
			},
		}
		for _, line := range parsed.Lines {
			result.Fragments = append(result.Fragments, types.OCRFragment{
				Text:       line.Text,
				Confidence: line.Confidence,
				X1:         line.Box[0],
				Y1:         line.Box[1],
				X2:         line.Box[2],
				Y2:         line.Box[3],
			})
		}
		return result, nil
	}

	return nil, fmt.Errorf("cloud OCR failed after retries: %w", lastErr)
}
