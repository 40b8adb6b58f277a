package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperquery/paperquery/internal/model"
)

func seedDocument(t *testing.T, store *MemStore, id string, status model.DocumentStatus) {
	t.Helper()
	doc := &model.Document{ID: id, UserID: "user-1", FileName: id + ".pdf"}
	require.NoError(t, store.Create(context.Background(), doc))
	switch status {
	case model.StatusPending:
	case model.StatusProcessing:
		claimed, err := store.ClaimForProcessing(context.Background(), id)
		require.NoError(t, err)
		require.True(t, claimed)
	case model.StatusCompleted:
		_, err := store.ClaimForProcessing(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, store.MarkCompleted(context.Background(), id))
	case model.StatusFailed:
		_, err := store.ClaimForProcessing(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(context.Background(), id, "boom"))
	}
}

func TestClaimForProcessing(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		status  model.DocumentStatus
		claimed bool
	}{
		{model.StatusPending, true},
		{model.StatusFailed, true},
		{model.StatusProcessing, false},
		{model.StatusCompleted, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			store := NewMemStore()
			seedDocument(t, store, "doc-1", tc.status)

			claimed, err := store.ClaimForProcessing(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, tc.claimed, claimed)

			if tc.claimed {
				doc, err := store.Get(ctx, "doc-1")
				require.NoError(t, err)
				assert.Equal(t, model.StatusProcessing, doc.Status)
				assert.Nil(t, doc.ErrorMessage)
			}
		})
	}
}

func TestClaimClearsPreviousFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusFailed)

	claimed, err := store.ClaimForProcessing(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, claimed)

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Nil(t, doc.ErrorMessage, "claiming a failed document should clear its old error")
}

func TestMarkCompletedIgnoresNonProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusPending)

	require.NoError(t, store.MarkCompleted(ctx, "doc-1"))

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status, "a document not in processing must stay put")
	assert.Nil(t, doc.ProcessedAt)
}

func TestMarkFailedRecordsCause(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusProcessing)

	require.NoError(t, store.MarkFailed(ctx, "doc-1", "download: object missing"))

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Equal(t, "download: object missing", *doc.ErrorMessage)
}

func TestResetProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusProcessing)
	seedDocument(t, store, "doc-2", model.StatusProcessing)
	seedDocument(t, store, "doc-3", model.StatusCompleted)
	seedDocument(t, store, "doc-4", model.StatusPending)

	n, err := store.ResetProcessing(ctx, "interrupted")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []string{"doc-1", "doc-2"} {
		doc, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, doc.Status)
		require.NotNil(t, doc.ErrorMessage)
		assert.Equal(t, "interrupted", *doc.ErrorMessage)
	}

	doc, err := store.Get(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
}

func TestGetOwnedHidesForeignDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusPending)

	_, err := store.GetOwned(ctx, "doc-1", "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)

	doc, err := store.GetOwned(ctx, "doc-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
}

func TestReplaceAllSwapsGenerations(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := []model.Chunk{
		{ID: "a", DocumentID: "doc-1", Ordinal: 0, Content: "one", Embedding: []float32{1, 0}},
		{ID: "b", DocumentID: "doc-1", Ordinal: 1, Content: "two", Embedding: []float32{0, 1}},
	}
	require.NoError(t, store.ReplaceAll(ctx, "doc-1", first))

	second := []model.Chunk{
		{ID: "c", DocumentID: "doc-1", Ordinal: 0, Content: "uno", Embedding: []float32{1, 1}},
	}
	require.NoError(t, store.ReplaceAll(ctx, "doc-1", second))

	got := store.ChunksFor("doc-1")
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID, "stale chunks from the previous run must be gone")
}

func TestSearchSimilarOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	// Two chunks share an embedding so their similarity ties exactly; the
	// lower ordinal must win. The third scores lower and must not make top-2.
	chunks := []model.Chunk{
		{ID: "low", DocumentID: "doc-1", Ordinal: 0, Content: "low", Embedding: []float32{0, 1}},
		{ID: "tie-a", DocumentID: "doc-1", Ordinal: 2, Content: "tie a", Embedding: []float32{1, 1}},
		{ID: "tie-b", DocumentID: "doc-1", Ordinal: 5, Content: "tie b", Embedding: []float32{1, 1}},
	}
	require.NoError(t, store.ReplaceAll(ctx, "doc-1", chunks))

	results, err := store.SearchSimilar(ctx, "doc-1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Ordinal)
	assert.Equal(t, 5, results[1].Ordinal)
	assert.Equal(t, results[0].Similarity, results[1].Similarity)
}

func TestSearchSimilarRoundsScores(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	chunks := []model.Chunk{
		{ID: "a", DocumentID: "doc-1", Ordinal: 0, Content: "a", Embedding: []float32{1, 1}},
	}
	require.NoError(t, store.ReplaceAll(ctx, "doc-1", chunks))

	results, err := store.SearchSimilar(ctx, "doc-1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// cos(45 degrees) = 0.70710678..., rounded to four decimals.
	assert.Equal(t, 0.7071, results[0].Similarity)
}

func TestSearchSimilarScopedToDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	require.NoError(t, store.ReplaceAll(ctx, "doc-1", []model.Chunk{
		{ID: "a", DocumentID: "doc-1", Ordinal: 0, Content: "mine", Embedding: []float32{1, 0}},
	}))
	require.NoError(t, store.ReplaceAll(ctx, "doc-2", []model.Chunk{
		{ID: "b", DocumentID: "doc-2", Ordinal: 0, Content: "other", Embedding: []float32{1, 0}},
	}))

	results, err := store.SearchSimilar(ctx, "doc-1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestAppendPairAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	q := &model.Message{ID: "01A", DocumentID: "doc-1", UserID: "user-1", Role: model.RoleUser, Content: "what?"}
	a := &model.Message{ID: "01B", DocumentID: "doc-1", UserID: "user-1", Role: model.RoleAssistant, Content: "this."}
	require.NoError(t, store.AppendPair(ctx, q, a))

	msgs, err := store.ListByDocument(ctx, "doc-1", "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)

	foreign, err := store.ListByDocument(ctx, "doc-1", "someone-else")
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seedDocument(t, store, "doc-1", model.StatusCompleted)
	require.NoError(t, store.ReplaceAll(ctx, "doc-1", []model.Chunk{
		{ID: "a", DocumentID: "doc-1", Ordinal: 0, Content: "x", Embedding: []float32{1}},
	}))

	require.NoError(t, store.Delete(ctx, "doc-1", "user-1"))

	_, err := store.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.ChunksFor("doc-1"))

	assert.ErrorIs(t, store.Delete(ctx, "doc-1", "user-1"), ErrNotFound)
}
