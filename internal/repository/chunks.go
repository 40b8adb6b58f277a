package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/paperquery/paperquery/internal/model"
)

// ChunkRepository persists chunk rows and runs the vector search.
type ChunkRepository struct {
	pool *pgxpool.Pool
}

// NewChunkRepository constructs a repository.
func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// ReplaceAll swaps the document's chunk set in a single transaction: any rows
// from an earlier failed attempt are deleted before the new generation is
// inserted, so readers see either the whole new set or none of it.
func (r *ChunkRepository) ReplaceAll(ctx context.Context, documentID string, chunks []model.Chunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i := range chunks {
		ch := &chunks[i]
		batch.Queue(`
			INSERT INTO chunks (id, document_id, ordinal, content, embedding, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ch.ID, documentID, ch.Ordinal, ch.Content, pgvector.NewVector(ch.Embedding), now)
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// SearchSimilar returns the k chunks of one document closest to the query
// vector by cosine distance, highest similarity first. Equal distances are
// broken by ascending ordinal so results are reproducible. Documents with no
// embedded chunks yield an empty result, not an error.
func (r *ChunkRepository) SearchSimilar(ctx context.Context, documentID string, queryVec []float32, k int) ([]model.SearchResult, error) {
	vec := pgvector.NewVector(queryVec)
	rows, err := r.pool.Query(ctx, `
		SELECT id, ordinal, content, 1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE document_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2 ASC, ordinal ASC
		LIMIT $3
	`, documentID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var out []model.SearchResult
	for rows.Next() {
		var res model.SearchResult
		if err := rows.Scan(&res.ChunkID, &res.Ordinal, &res.Content, &res.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		res.Similarity = roundSimilarity(res.Similarity)
		out = append(out, res)
	}
	return out, rows.Err()
}

// roundSimilarity trims scores to four decimals for presentation. Applied
// after the database ordered the rows, so ties are decided on the exact
// distance, not the rounded score.
func roundSimilarity(s float64) float64 {
	return math.Round(s*10000) / 10000
}
