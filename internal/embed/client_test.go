package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embedHandler answers like the OpenAI embeddings endpoint. Each input must
// look like "t<N>"; its vector comes back as [N, 0, 0] so tests can verify
// positional correspondence end to end.
type embedHandler struct {
	mu        sync.Mutex
	requests  int
	batchLens []int
	reverse   bool
	dim       int
	failInput string
}

func (h *embedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.requests++
	h.batchLens = append(h.batchLens, len(req.Input))
	h.mu.Unlock()

	type item struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	}
	var data []item
	for i, in := range req.Input {
		if in == h.failInput && h.failInput != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		n, err := strconv.Atoi(strings.TrimPrefix(in, "t"))
		if err != nil {
			http.Error(w, "bad input", http.StatusBadRequest)
			return
		}
		vec := make([]float64, h.dim)
		vec[0] = float64(n)
		data = append(data, item{Embedding: vec, Index: i})
	}
	if h.reverse {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}

	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func newTestClient(t *testing.T, h http.Handler, dim, maxBatch int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: dim,
		MaxBatch:   maxBatch,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)

	got, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbedBatchRestoresServiceOrder(t *testing.T) {
	h := &embedHandler{dim: 3, reverse: true}
	c := newTestClient(t, h, 3, 64)

	texts := []string{"t0", "t1", "t2", "t3"}
	got, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))
	for i := range texts {
		assert.Equal(t, float32(i), got[i][0], "embedding %d must match its input", i)
	}
}

func TestEmbedBatchSplitsLargeInput(t *testing.T) {
	h := &embedHandler{dim: 3}
	c := newTestClient(t, h, 3, 2)

	texts := []string{"t0", "t1", "t2", "t3", "t4"}
	got, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))
	for i := range texts {
		assert.Equal(t, float32(i), got[i][0])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 3, h.requests, "five inputs at batch size two need three calls")
	for _, n := range h.batchLens {
		assert.LessOrEqual(t, n, 2)
	}
}

func TestEmbedBatchFailsAtomically(t *testing.T) {
	h := &embedHandler{dim: 3, failInput: "t1"}
	c := newTestClient(t, h, 3, 1)

	got, err := c.EmbedBatch(context.Background(), []string{"t0", "t1", "t2"})
	assert.Error(t, err)
	assert.Nil(t, got, "a failed batch must not yield partial embeddings")
}

func TestEmbedBatchRejectsWrongDimension(t *testing.T) {
	h := &embedHandler{dim: 2}
	c := newTestClient(t, h, 3, 64)

	_, err := c.EmbedBatch(context.Background(), []string{"t0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestEmbedBatchRejectsMissingVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1,0,0],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"t0", "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding returned for input 1")
}

func TestEmbedBatchSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"rate_limit"}}`)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "t0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestEmbedSendsAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":[{"embedding":[1,0,0],"index":0}]}`)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "t0")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, "Bearer secret", gotAuth)
}
