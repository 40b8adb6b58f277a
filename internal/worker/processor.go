// Package worker plugs the ingestion pipeline into the asynq consumer.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/paperquery/paperquery/internal/queue"
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, documentID string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipeline Runner
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipeline Runner) *Processor {
	return &Processor{pipeline: pipeline}
}

// Handler registers the ingest job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, p.handleIngest)
	return mux
}

// handleIngest always returns nil: an errored task would be archived and its
// task id held, which would block a user-initiated retry from enqueueing.
// Failures are recorded on the document row instead.
func (p *Processor) handleIngest(ctx context.Context, task *asynq.Task) error {
	var payload queue.IngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("undecodable ingest payload", "err", err)
		return nil
	}
	if err := p.pipeline.Run(ctx, payload.DocumentID); err != nil {
		slog.Error("ingest run errored", "document_id", payload.DocumentID, "err", err)
	}
	return nil
}
