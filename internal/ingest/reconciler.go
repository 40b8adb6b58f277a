package ingest

import (
	"context"
	"fmt"
	"log/slog"
)

// ReconcileNote is stored on documents rescued by the startup sweep.
const ReconcileNote = "Processing was interrupted during a restart. Ready for retry."

// Resetter is the repository slice the reconciler needs.
type Resetter interface {
	ResetProcessing(ctx context.Context, note string) (int64, error)
}

// Reconcile returns every document stuck in processing to pending. A worker
// that dies mid-pipeline leaves its document in processing with no job left
// in the queue to revive it, so this sweep must run at worker startup before
// any new job is accepted. When several workers start concurrently a
// legitimately running job could get reset; the single-worker deployment
// model accepts that trade-off instead of taking a distributed lock.
func Reconcile(ctx context.Context, store Resetter) error {
	n, err := store.ResetProcessing(ctx, ReconcileNote)
	if err != nil {
		return fmt.Errorf("reset processing documents: %w", err)
	}
	if n > 0 {
		slog.Warn("reset interrupted documents to pending", "count", n)
	}
	return nil
}
