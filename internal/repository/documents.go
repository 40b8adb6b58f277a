package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperquery/paperquery/internal/model"
)

// DocumentRepository persists document metadata and drives the status
// lifecycle. The pipeline and the reconciler are the only callers of the
// status transitions; the API reads and deletes.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

const documentColumns = `id, user_id, file_name, object_key, file_size, status, error_message, processed_at, created_at, updated_at`

// Create inserts a pending document after a successful upload.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.Status = model.StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, user_id, file_name, object_key, file_size, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, doc.ID, doc.UserID, doc.FileName, doc.ObjectKey, doc.FileSize, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get returns a document by id regardless of owner. The worker path uses it;
// the API must use GetOwned.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	return scanDocument(row)
}

// GetOwned returns a document only when it belongs to userID. A missing row
// and a foreign row are indistinguishable to the caller.
func (r *DocumentRepository) GetOwned(ctx context.Context, id, userID string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND user_id=$2`, id, userID)
	return scanDocument(row)
}

// ListByUser returns the caller's documents, newest first.
func (r *DocumentRepository) ListByUser(ctx context.Context, userID string) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE user_id=$1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// Delete removes an owned document. Chunks and messages go with it via the
// schema's cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimForProcessing transitions pending|failed -> processing. The conditional
// update is the duplicate-delivery guard: when the row is already processing
// (or completed) no rows match and the claim is refused, which callers treat
// as an idempotent skip rather than an error.
func (r *DocumentRepository) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1, error_message=NULL, updated_at=$2
		WHERE id=$3 AND status IN ($4, $5)
	`, model.StatusProcessing, time.Now().UTC(), id, model.StatusPending, model.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted transitions processing -> completed and records the
// completion time. A row no longer in processing was swept back to pending by
// a restart; its new owner decides its fate, so the update is a no-op then.
func (r *DocumentRepository) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1, processed_at=$2, error_message=NULL, updated_at=$2
		WHERE id=$3 AND status=$4
	`, model.StatusCompleted, now, id, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return nil
}

// MarkFailed transitions processing -> failed and stores the human-readable
// cause.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id, cause string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1, error_message=$2, updated_at=$3
		WHERE id=$4 AND status=$5
	`, model.StatusFailed, cause, time.Now().UTC(), id, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail document: %w", err)
	}
	return nil
}

// ResetProcessing returns every processing document to pending, recording
// note as the error message. Run by the worker at startup before any job is
// accepted.
func (r *DocumentRepository) ResetProcessing(ctx context.Context, note string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status=$1, error_message=$2, updated_at=$3
		WHERE status=$4
	`, model.StatusPending, note, time.Now().UTC(), model.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset processing documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.UserID, &doc.FileName, &doc.ObjectKey, &doc.FileSize,
		&doc.Status, &doc.ErrorMessage, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return &doc, nil
}
