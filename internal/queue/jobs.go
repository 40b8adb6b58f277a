// Package queue dispatches ingestion jobs over Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"
	"github.com/hibiken/asynq"
)

const (
	// TaskIngestDocument is scheduled when a PDF needs processing, both on
	// upload and on user-initiated retry.
	TaskIngestDocument = "document:ingest"

	enqueueAttempts = 3
)

// IngestPayload tells the worker which document to process. Everything else
// (object key, file name) lives on the document row.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

// TaskSubmitter is the slice of the asynq client the Enqueuer dispatches
// through.
type TaskSubmitter interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer submits ingestion jobs.
type Enqueuer struct {
	client TaskSubmitter
}

// NewEnqueuer wraps an asynq client.
func NewEnqueuer(client TaskSubmitter) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueIngest submits one ingestion job for the document. The task id is
// derived from the document id, so while a job for this document is still
// queued or running a second submission is absorbed as a no-op: the caller
// observes success and at most one pipeline run is in flight per document.
// Jobs never retry at the queue level; a failed run lands in the document's
// status and retrying is the user's call.
func (e *Enqueuer) EnqueueIngest(ctx context.Context, documentID string) error {
	data, err := json.Marshal(IngestPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskIngestDocument, data)

	err = retry.Do(
		func() error {
			_, err := e.client.EnqueueContext(ctx, task,
				asynq.TaskID("ingest:"+documentID),
				asynq.MaxRetry(0),
			)
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				return nil
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(enqueueAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying enqueue",
				"attempt", n+1,
				"document_id", documentID,
				"err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("enqueue ingest task: %w", err)
	}
	return nil
}
