package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paperquery/paperquery/internal/model"
)

// MemStore is an in-memory stand-in for the document, chunk and message
// repositories. Handler and pipeline tests run against it without Postgres;
// its SearchSimilar applies the same ordering contract as the SQL version.
type MemStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	chunks    map[string][]model.Chunk
	messages  map[string][]model.Message
}

// NewMemStore constructs an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		documents: make(map[string]*model.Document),
		chunks:    make(map[string][]model.Chunk),
		messages:  make(map[string][]model.Message),
	}
}

// Create registers a new document in the pending state.
func (m *MemStore) Create(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	doc.Status = model.StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	m.documents[doc.ID] = &cp
	return nil
}

// Get returns a document regardless of owner.
func (m *MemStore) Get(ctx context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// GetOwned returns a document only when it belongs to the user.
func (m *MemStore) GetOwned(ctx context.Context, id, userID string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok || doc.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// ListByUser returns the user's documents, newest first.
func (m *MemStore) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Document
	for _, doc := range m.documents {
		if doc.UserID == userID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes an owned document and everything hanging off it.
func (m *MemStore) Delete(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.UserID != userID {
		return ErrNotFound
	}
	delete(m.documents, id)
	delete(m.chunks, id)
	delete(m.messages, id)
	return nil
}

// ClaimForProcessing moves a pending or failed document into processing.
func (m *MemStore) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return false, nil
	}
	if doc.Status != model.StatusPending && doc.Status != model.StatusFailed {
		return false, nil
	}
	doc.Status = model.StatusProcessing
	doc.ErrorMessage = nil
	doc.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCompleted finishes a processing document. A document in any other state
// is left alone, matching the guarded SQL update.
func (m *MemStore) MarkCompleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.Status != model.StatusProcessing {
		return nil
	}
	now := time.Now().UTC()
	doc.Status = model.StatusCompleted
	doc.ErrorMessage = nil
	doc.ProcessedAt = &now
	doc.UpdatedAt = now
	return nil
}

// MarkFailed records why a processing document failed.
func (m *MemStore) MarkFailed(ctx context.Context, id, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.Status != model.StatusProcessing {
		return nil
	}
	doc.Status = model.StatusFailed
	doc.ErrorMessage = &cause
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetProcessing returns every processing document to pending with the given
// note as its error message.
func (m *MemStore) ResetProcessing(ctx context.Context, note string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, doc := range m.documents {
		if doc.Status == model.StatusProcessing {
			doc.Status = model.StatusPending
			msg := note
			doc.ErrorMessage = &msg
			doc.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// ReplaceAll swaps the document's chunk set for a fresh generation.
func (m *MemStore) ReplaceAll(ctx context.Context, documentID string, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	replacement := make([]model.Chunk, len(chunks))
	for i, ch := range chunks {
		ch.CreatedAt = now
		replacement[i] = ch
	}
	m.chunks[documentID] = replacement
	return nil
}

// ChunksFor returns a copy of the stored chunks, for assertions in tests.
func (m *MemStore) ChunksFor(documentID string) []model.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Chunk, len(m.chunks[documentID]))
	copy(out, m.chunks[documentID])
	return out
}

// SearchSimilar ranks the document's chunks by cosine similarity, most
// similar first, breaking exact ties by ascending ordinal. Scores are rounded
// to four decimals only after ordering.
func (m *MemStore) SearchSimilar(ctx context.Context, documentID string, embedding []float32, limit int) ([]model.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.SearchResult
	for _, ch := range m.chunks[documentID] {
		if ch.Embedding == nil {
			continue
		}
		out = append(out, model.SearchResult{
			ChunkID:    ch.ID,
			Ordinal:    ch.Ordinal,
			Content:    ch.Content,
			Similarity: cosineSimilarity(embedding, ch.Embedding),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	if limit < len(out) {
		out = out[:limit]
	}
	for i := range out {
		out[i].Similarity = roundSimilarity(out[i].Similarity)
	}
	return out, nil
}

// AppendPair stores a question and its answer together.
func (m *MemStore) AppendPair(ctx context.Context, question, answer *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	question.CreatedAt = now
	answer.CreatedAt = now
	m.messages[question.DocumentID] = append(m.messages[question.DocumentID], *question, *answer)
	return nil
}

// ListByDocument returns the user's conversation for a document in
// chronological order.
func (m *MemStore) ListByDocument(ctx context.Context, documentID, userID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Message
	for _, msg := range m.messages[documentID] {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
