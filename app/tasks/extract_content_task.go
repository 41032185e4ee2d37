package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
)

type ContentFetcher interface {
	FetchContent(ctx context.Context, url string) (string, error)
}

type ExtractContentTask struct {
	Task
	limit    int
	fetcher  ContentFetcher
	articles database.ArticleRepository
}

func NewExtractContentTask(sourceID string, limit int, fetcher ContentFetcher, articles database.ArticleRepository) *ExtractContentTask {
	return &ExtractContentTask{
		Task:     NewTask(TaskTypeExtractContent, sourceID),
		limit:    limit,
		fetcher:  fetcher,
		articles: articles,
	}
}

func (t *ExtractContentTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	items, err := t.articles.GetArticlesForExtraction(ctx, t.SourceID, t.limit)
	if err != nil {
		return fmt.Errorf("failed to get articles for content extraction: %w", err)
	}

	if len(items) == 0 {
		slog.Debug("No articles need content extraction", "source", t.SourceID)
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := t.extractArticle(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			slog.Error("Failed to extract content for article", "article_id", item.ID, "url", item.URL, "error", err)
			errorCount++

			if err := t.articles.UpdateExtractionStatus(ctx, item.ID, database.ContentFailed, err.Error()); err != nil {
				slog.Error("Failed to update content extraction status", "article_id", item.ID, "error", err)
			}
		} else {
			successCount++
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceID,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}

func (t *ExtractContentTask) extractArticle(ctx context.Context, item database.ArticleForExtraction) error {
	if !extractor.IsArticleURL(item.URL) {
		return fmt.Errorf("article has no usable link")
	}

	content, err := t.fetcher.FetchContent(ctx, item.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch article content: %w", err)
	}

	if err := t.articles.UpdateExtractedContent(ctx, item.ID, content, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}

	slog.Debug("Content extracted successfully", "article_id", item.ID, "url", item.URL, "content_length", len(content))
	return nil
}
