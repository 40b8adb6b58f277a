package model

import "time"

// Chunk is one window of a document's extracted text together with its
// embedding. Chunks are written in bulk by the ingestion pipeline and never
// mutated afterwards.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Ordinal    int       `json:"ordinal"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SearchResult is one retrieved chunk annotated with its similarity to the
// query. The same shape is stored as the sources of an assistant message.
type SearchResult struct {
	ChunkID    string  `json:"chunkId"`
	Ordinal    int     `json:"ordinal"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
