// Package rag retrieves the chunks most relevant to a question and asks the
// chat service to answer from them.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paperquery/paperquery/internal/model"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher ranks a document's chunks against a query vector.
type Searcher interface {
	SearchSimilar(ctx context.Context, documentID string, embedding []float32, limit int) ([]model.SearchResult, error)
}

// Completer generates an answer from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Answer couples the generated text with the exact chunks it was grounded on,
// so callers can persist both together.
type Answer struct {
	Text    string
	Sources []model.SearchResult
}

// Service wires retrieval and generation together.
type Service struct {
	embedder Embedder
	searcher Searcher
	chat     Completer
}

// NewService constructs a Service.
func NewService(embedder Embedder, searcher Searcher, chat Completer) *Service {
	return &Service{embedder: embedder, searcher: searcher, chat: chat}
}

// Search embeds the query and returns the document's topK most similar
// chunks, best first. A document without stored chunks yields an empty
// result, not an error.
func (s *Service) Search(ctx context.Context, documentID, query string, topK int) ([]model.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.searcher.SearchSimilar(ctx, documentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	slog.Debug("searched document", "document_id", documentID, "results", len(results))
	return results, nil
}

// Query answers a question about one document. The retrieved chunks are
// embedded into a grounded prompt that forbids the model from reaching
// outside them; the generated text comes back verbatim together with those
// chunks. Upstream failures surface as errors, the caller decides what to do
// with them.
func (s *Service) Query(ctx context.Context, documentID, question string, topK int) (*Answer, error) {
	sources, err := s.Search(ctx, documentID, question, topK)
	if err != nil {
		return nil, err
	}

	text, err := s.chat.Complete(ctx, buildPrompt(question, sources))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	slog.Debug("generated answer", "document_id", documentID, "sources", len(sources), "answer_len", len(text))

	return &Answer{Text: text, Sources: sources}, nil
}

// buildPrompt embeds the retrieved excerpts, numbered from one, ahead of the
// question and the grounding instructions.
func buildPrompt(query string, chunks []model.SearchResult) string {
	excerpts := make([]string, len(chunks))
	for i, ch := range chunks {
		excerpts[i] = fmt.Sprintf("Excerpt %d:\n%s", i+1, ch.Content)
	}

	return fmt.Sprintf(`Here are excerpts from a document:

%s

Question: %s

You are a helpful assistant. Answer the user's question using only the provided excerpts.

If the specific answer is not explicitly stated, synthesize relevant details from the text that address the core of the user's inquiry.

If the excerpts contain absolutely no relevant information, state that you cannot answer based on the provided text.`,
		strings.Join(excerpts, "\n\n"), query)
}
