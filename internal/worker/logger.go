package worker

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
)

// slogAdapter routes asynq's internal logging through slog so worker output
// stays on one format.
type slogAdapter struct{}

// NewLogger returns a logger for asynq.Config.
func NewLogger() asynq.Logger {
	return slogAdapter{}
}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }

func (slogAdapter) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...))
	os.Exit(1)
}
