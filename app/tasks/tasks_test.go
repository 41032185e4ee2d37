package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
)

type MockArticleRepository struct {
	mu        sync.Mutex
	pending   []database.ArticleForExtraction
	content   map[string]string
	failed    map[string]string
	cutoff    time.Time
	deleted   int64
	lastLimit int
}

func (m *MockArticleRepository) ExistingArticleIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (m *MockArticleRepository) InsertArticles(ctx context.Context, articles []database.Article) (int, error) {
	return len(articles), nil
}

func (m *MockArticleRepository) ListArticles(ctx context.Context, sourceID string, limit int) ([]database.Article, error) {
	return nil, nil
}

func (m *MockArticleRepository) ListRecentArticles(ctx context.Context, limit int) ([]database.Article, error) {
	return nil, nil
}

func (m *MockArticleRepository) GetArticleCount(ctx context.Context, sourceID string) (int, error) {
	return 0, nil
}

func (m *MockArticleRepository) GetArticlesForExtraction(ctx context.Context, sourceID string, limit int) ([]database.ArticleForExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	return m.pending, nil
}

func (m *MockArticleRepository) UpdateExtractedContent(ctx context.Context, id string, content string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.content == nil {
		m.content = make(map[string]string)
	}
	m.content[id] = content
	return nil
}

func (m *MockArticleRepository) UpdateExtractionStatus(ctx context.Context, id string, status database.ContentStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed == nil {
		m.failed = make(map[string]string)
	}
	m.failed[id] = msg
	return nil
}

func (m *MockArticleRepository) DeleteArticlesBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = before
	return m.deleted, nil
}

type MockContentFetcher struct {
	content map[string]string
}

func (m *MockContentFetcher) FetchContent(ctx context.Context, url string) (string, error) {
	if c, ok := m.content[url]; ok {
		return c, nil
	}
	return "", errors.New("extraction failed (parse): no article content")
}

func TestExtractContentTask(t *testing.T) {
	articles := &MockArticleRepository{pending: []database.ArticleForExtraction{
		{ID: "1", URL: "https://mp.weixin.qq.com/s/one"},
		{ID: "2", URL: "https://mp.weixin.qq.com/s/two"},
		{ID: "3", URL: ""},
	}}
	fetcher := &MockContentFetcher{content: map[string]string{
		"https://mp.weixin.qq.com/s/one": "<p>one</p>",
	}}

	task := NewExtractContentTask("src", 20, fetcher, articles)
	if task.GetMaxRetries() != DefaultMaxRetries {
		t.Errorf("Expected %d retries, got %d", DefaultMaxRetries, task.GetMaxRetries())
	}

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if articles.lastLimit != 20 {
		t.Errorf("Expected limit 20, got %d", articles.lastLimit)
	}
	if articles.content["1"] != "<p>one</p>" {
		t.Errorf("Expected content for article 1, got %q", articles.content["1"])
	}
	if _, ok := articles.failed["2"]; !ok {
		t.Error("Expected article 2 to be marked failed")
	}
	if _, ok := articles.failed["3"]; !ok {
		t.Error("Expected article 3 without link to be marked failed")
	}
}

func TestExtractContentTaskCancelled(t *testing.T) {
	articles := &MockArticleRepository{pending: []database.ArticleForExtraction{{ID: "1", URL: "https://mp.weixin.qq.com/s/one"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewExtractContentTask("src", 5, &MockContentFetcher{}, articles).Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPruneTask(t *testing.T) {
	articles := &MockArticleRepository{deleted: 7}
	task := NewPruneTask(30, articles)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	task.now = func() time.Time { return now }

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if want := now.Add(-30 * 24 * time.Hour); !articles.cutoff.Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, articles.cutoff)
	}

	disabled := &MockArticleRepository{}
	if err := NewPruneTask(0, disabled).Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !disabled.cutoff.IsZero() {
		t.Error("Expected no pruning with zero retention")
	}
}

func TestRefreshSourceTaskNeverRetried(t *testing.T) {
	task := NewRefreshSourceTask("a", &MockPipeline{})
	if task.CanRetry() {
		t.Error("Expected refresh tasks not to be retried")
	}
	if task.GetType() != TaskTypeRefreshSource {
		t.Errorf("Expected type %s, got %s", TaskTypeRefreshSource, task.GetType())
	}
}

func TestEnqueueTaskQueueFull(t *testing.T) {
	s := NewScheduler(&MockPipeline{}, &MockArticleRepository{}, &MockContentFetcher{}, &MockSettings{}, Config{QueueSize: 1})

	if err := s.EnqueueTask(NewPruneTask(1, &MockArticleRepository{})); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := s.EnqueueTask(NewPruneTask(1, &MockArticleRepository{})); err == nil {
		t.Error("Expected an error when the queue is full")
	}
}
