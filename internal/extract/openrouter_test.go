package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string) OpenRouterConfig {
	return OpenRouterConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL + "/v1",
		Model:          "test-vision-model",
		CallsPerMinute: 6000,
		RequestTimeout: 5 * time.Second,
	}
}

func TestOpenRouterExtractor_Extract(t *testing.T) {
	var gotBody map[string]any
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"# Caesar Salad\n\nDecrypt the message."}}]}`))
	})

	extractor, err := NewOpenRouterExtractor(testConfig(server.URL), nil)
	require.NoError(t, err)

	markdown, err := extractor.Extract(context.Background(), Capture{
		URL:        "https://gym.example.com/challenges/caesar",
		Title:      "Caesar Salad",
		HTML:       "<html><body><h1>Caesar Salad</h1></body></html>",
		Screenshot: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Caesar Salad\n\nDecrypt the message.", markdown)

	assert.Equal(t, "test-vision-model", gotBody["model"])
	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Contains(t, image["url"], "data:image/png;base64,")
}

func TestOpenRouterExtractor_RateLimited(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	})

	extractor, err := NewOpenRouterExtractor(testConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), Capture{URL: "https://gym.example.com/c/1", HTML: "<p>x</p>"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenRouterExtractor_EmptyContent(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	})

	extractor, err := NewOpenRouterExtractor(testConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), Capture{URL: "https://gym.example.com/c/1", HTML: "<p>x</p>"})
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestNewOpenRouterExtractor_Validation(t *testing.T) {
	_, err := NewOpenRouterExtractor(OpenRouterConfig{Model: "m"}, nil)
	assert.Error(t, err)

	_, err = NewOpenRouterExtractor(OpenRouterConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}
