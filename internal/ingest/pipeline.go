// Package ingest runs the document processing pipeline: download, extract,
// chunk, embed, persist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/paperquery/paperquery/internal/model"
	pdfutil "github.com/paperquery/paperquery/internal/pdf"
)

// emptyTextCause is recorded on documents whose PDF produced no text.
const emptyTextCause = "No text could be extracted from PDF"

// DocumentStore is the slice of the repository the pipeline drives the
// status machine through.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	ClaimForProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, cause string) error
}

// ChunkStore persists a document's chunks as one generation.
type ChunkStore interface {
	ReplaceAll(ctx context.Context, documentID string, chunks []model.Chunk) error
}

// ObjectStore fetches the raw uploaded file.
type ObjectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Embedder vectorizes chunk contents, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Splitter cuts extracted text into windows.
type Splitter interface {
	Split(text string) []string
}

// Pipeline executes one ingestion run per job.
type Pipeline struct {
	documents DocumentStore
	chunks    ChunkStore
	objects   ObjectStore
	splitter  Splitter
	embedder  Embedder
	extract   func(io.Reader) (string, error)
}

// NewPipeline constructs a pipeline.
func NewPipeline(documents DocumentStore, chunks ChunkStore, objects ObjectStore, splitter Splitter, embedder Embedder) *Pipeline {
	return &Pipeline{
		documents: documents,
		chunks:    chunks,
		objects:   objects,
		splitter:  splitter,
		embedder:  embedder,
		extract:   pdfutil.ExtractFromReader,
	}
}

// Run processes one document end to end. It first claims the document by
// moving it from pending or failed into processing; when the claim misses
// (duplicate delivery, already completed, or deleted) the run is an
// idempotent skip. Any stage failing marks the document failed with a
// human-readable cause and consumes the job. Chunks and their embeddings
// only become visible together in the final persist step, so no reader ever
// observes a partially embedded document, and a rerun after a failure starts
// from a clean slate.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	claimed, err := p.documents.ClaimForProcessing(ctx, documentID)
	if err != nil {
		return fmt.Errorf("claim document: %w", err)
	}
	if !claimed {
		slog.Info("ingest skipped, document not claimable", "document_id", documentID)
		return nil
	}

	failure := func(err error) error {
		slog.Error("ingest failed", "document_id", documentID, "err", err)
		if markErr := p.documents.MarkFailed(ctx, documentID, err.Error()); markErr != nil {
			return fmt.Errorf("record failure: %w", markErr)
		}
		return nil
	}

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return failure(fmt.Errorf("load document: %w", err))
	}
	slog.Info("ingest started", "document_id", documentID, "file_name", doc.FileName)

	rc, err := p.objects.Download(ctx, doc.ObjectKey)
	if err != nil {
		return failure(fmt.Errorf("download object: %w", err))
	}
	text, err := p.extract(rc)
	rc.Close()
	if err != nil {
		return failure(fmt.Errorf("extract text: %w", err))
	}

	texts := p.splitter.Split(text)
	if len(texts) == 0 {
		return failure(errors.New(emptyTextCause))
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return failure(fmt.Errorf("embed chunks: %w", err))
	}

	chunks := make([]model.Chunk, len(texts))
	for i, content := range texts {
		chunks[i] = model.Chunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Ordinal:    i,
			Content:    content,
			Embedding:  vectors[i],
		}
	}
	if err := p.chunks.ReplaceAll(ctx, documentID, chunks); err != nil {
		return failure(fmt.Errorf("persist chunks: %w", err))
	}

	if err := p.documents.MarkCompleted(ctx, documentID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	slog.Info("ingest completed", "document_id", documentID, "chunks", len(chunks))
	return nil
}
