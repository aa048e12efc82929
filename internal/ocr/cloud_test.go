package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloudOKBody() string {
	return `{
		"text": "Racor 900FG Fuel Filter\nQty: 4",
		"confidence": 0.93,
		"cost_usd": 0.0015,
		"lines": [
			{"text": "Racor 900FG Fuel Filter", "confidence": 0.95, "box": [10, 20, 300, 34]},
			{"text": "Qty: 4", "confidence": 0.91, "box": [10, 40, 80, 54]}
		]
	}`
}

func TestCloudExtract(t *testing.T) {
	image := []byte("png-bytes")
	var gotAuth string
	var gotReq cloudRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(cloudOKBody()))
	}))
	defer srv.Close()

	e := NewCloudEngine(srv.URL, "key-123", 5*time.Second)
	result, err := e.Extract(context.Background(), image)
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-123", gotAuth)
	assert.Equal(t, base64.StdEncoding.EncodeToString(image), gotReq.ImageBase64)
	assert.Equal(t, "document_text", gotReq.Features)

	assert.Equal(t, "cloud", result.Engine)
	assert.Equal(t, "Racor 900FG Fuel Filter\nQty: 4", result.Text)
	assert.Equal(t, 0.93, result.Confidence)
	assert.Equal(t, "0.001500", result.Metadata["cost_usd"])

	require.Len(t, result.Fragments, 2)
	assert.Equal(t, "Racor 900FG Fuel Filter", result.Fragments[0].Text)
	assert.Equal(t, 300, result.Fragments[0].X2)
	assert.Equal(t, 0.91, result.Fragments[1].Confidence)
}

func TestCloudExtractRetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(cloudOKBody()))
	}))
	defer srv.Close()

	e := NewCloudEngine(srv.URL, "key-123", 5*time.Second)
	result, err := e.Extract(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0.93, result.Confidence)
}

func TestCloudExtractRetryHonorsContext(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e := NewCloudEngine(srv.URL, "key-123", 5*time.Second)
	_, err := e.Extract(ctx, []byte("png-bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls, "backoff must not outlive the context")
}

func TestCloudExtractServerErrorIsFatal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	e := NewCloudEngine(srv.URL, "key-123", 5*time.Second)
	_, err := e.Extract(context.Background(), []byte("png-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, 1, calls, "only 429 is retried")
}

func TestCloudExtractErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "image too large"}}`))
	}))
	defer srv.Close()

	e := NewCloudEngine(srv.URL, "key-123", 5*time.Second)
	_, err := e.Extract(context.Background(), []byte("png-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image too large")
}

func TestCloudHealthCheck(t *testing.T) {
	ctx := context.Background()

	assert.Error(t, NewCloudEngine("", "key", time.Second).HealthCheck(ctx))
	assert.Error(t, NewCloudEngine("https://ocr.example.com", "", time.Second).HealthCheck(ctx))
	assert.NoError(t, NewCloudEngine("https://ocr.example.com", "key", time.Second).HealthCheck(ctx))
}
