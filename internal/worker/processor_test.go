package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperquery/paperquery/internal/queue"
)

type fakeRunner struct {
	ran []string
	err error
}

func (f *fakeRunner) Run(ctx context.Context, documentID string) error {
	f.ran = append(f.ran, documentID)
	return f.err
}

func TestHandleIngest(t *testing.T) {
	runner := &fakeRunner{}
	p := NewProcessor(runner)

	task := asynq.NewTask(queue.TaskIngestDocument, []byte(`{"document_id":"doc-42"}`))
	require.NoError(t, p.handleIngest(context.Background(), task))
	assert.Equal(t, []string{"doc-42"}, runner.ran)
}

func TestHandleIngestConsumesRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("db down")}
	p := NewProcessor(runner)

	task := asynq.NewTask(queue.TaskIngestDocument, []byte(`{"document_id":"doc-42"}`))
	assert.NoError(t, p.handleIngest(context.Background(), task),
		"the task id must be released even when the run errors")
}

func TestHandleIngestConsumesBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	p := NewProcessor(runner)

	task := asynq.NewTask(queue.TaskIngestDocument, []byte(`{`))
	assert.NoError(t, p.handleIngest(context.Background(), task))
	assert.Empty(t, runner.ran)
}
