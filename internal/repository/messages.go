package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperquery/paperquery/internal/model"
)

// MessageRepository persists the append-only question/answer history.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository constructs a repository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// AppendPair writes the user question and the assistant answer in one
// transaction so a query never leaves a half-recorded conversation behind.
func (r *MessageRepository) AppendPair(ctx context.Context, question, answer *model.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin message pair: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, msg := range []*model.Message{question, answer} {
		msg.CreatedAt = now
		var sources any
		if len(msg.Sources) > 0 {
			data, err := json.Marshal(msg.Sources)
			if err != nil {
				return fmt.Errorf("marshal sources: %w", err)
			}
			sources = string(data)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, document_id, user_id, role, content, sources, created_at)
			VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
		`, msg.ID, msg.DocumentID, msg.UserID, msg.Role, msg.Content, sources, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", msg.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit message pair: %w", err)
	}
	return nil
}

// ListByDocument returns the document's conversation for one user in
// chronological order. Message ids are ULIDs, so they break timestamp ties in
// insertion order.
func (r *MessageRepository) ListByDocument(ctx context.Context, documentID, userID string) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, user_id, role, content, sources, created_at
		FROM messages
		WHERE document_id=$1 AND user_id=$2
		ORDER BY created_at ASC, id ASC
	`, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			msg model.Message
			raw []byte
		)
		if err := rows.Scan(&msg.ID, &msg.DocumentID, &msg.UserID, &msg.Role, &msg.Content, &raw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &msg.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
