package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
)

type PruneTask struct {
	Task
	retention time.Duration
	articles  database.ArticleRepository
	now       func() time.Time
}

func NewPruneTask(retentionDays int, articles database.ArticleRepository) *PruneTask {
	return &PruneTask{
		Task:      NewTask(TaskTypePruneArticles, ""),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		articles:  articles,
		now:       time.Now,
	}
}

func (t *PruneTask) Execute(ctx context.Context) error {
	if t.retention <= 0 {
		return nil
	}

	cutoff := t.now().UTC().Add(-t.retention)
	deleted, err := t.articles.DeleteArticlesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune articles: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"cutoff", cutoff,
		"deleted", deleted)

	return nil
}
