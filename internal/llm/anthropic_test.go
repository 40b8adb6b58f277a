package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, MaxTokens: 256})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestCompleteSendsVersionedRequest(t *testing.T) {
	var (
		gotKey     string
		gotVersion string
		gotBody    messagesRequest
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"content":[{"type":"text","text":"the answer"}]}`)
	})

	answer, err := c.Complete(context.Background(), "the question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, 256, gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "the question", gotBody.Messages[0].Content)
}

func TestCompleteConcatenatesTextBlocks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[
			{"type":"text","text":"part one "},
			{"type":"tool_use","text":"ignored"},
			{"type":"text","text":"part two"}
		]}`)
	})

	answer, err := c.Complete(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", answer)
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	_, err := c.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestCompleteRejectsEmptyContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	})

	_, err := c.Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}
