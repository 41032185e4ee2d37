package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/mp-comb/app/ingest"
)

type Refresher interface {
	RefreshSource(ctx context.Context, id string) (*ingest.RefreshResult, error)
}

type RefreshSourceTask struct {
	Task
	refresher Refresher
	done      func(ctx context.Context, t *RefreshSourceTask, result *ingest.RefreshResult, err error)
}

// NewRefreshSourceTask is never retried by the worker pool: a failed source
// is handled by suppression instead.
func NewRefreshSourceTask(sourceID string, refresher Refresher) *RefreshSourceTask {
	task := NewTask(TaskTypeRefreshSource, sourceID)
	task.MaxRetries = 0

	return &RefreshSourceTask{
		Task:      task,
		refresher: refresher,
	}
}

func (t *RefreshSourceTask) Execute(ctx context.Context) error {
	result, err := t.refresher.RefreshSource(ctx, t.SourceID)

	if t.done != nil {
		t.done(ctx, t, result, err)
	}
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceID,
		"duration", t.GetDuration(),
		"fetched", result.Fetched,
		"new", result.NewItems)

	return nil
}
