package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var _ ArticleRepository = (*ArticleRepo)(nil)

type ArticleRepo struct {
	db *DB
}

func NewArticleRepository(db *DB) *ArticleRepo {
	return &ArticleRepo{db: db}
}

const articleColumns = `id, source_id, title, summary, content, url, cover_url, author, published_at,
	fetched_at, content_status, content_error, content_extracted_at, extraction_attempts`

func (r *ArticleRepo) ExistingArticleIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(`SELECT id FROM articles WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build id lookup: %w", err)
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to look up article ids: %w", err)
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// InsertArticles stores articles in one transaction. Rows whose id already
// exists are skipped; the number of inserted rows is returned.
func (r *ArticleRepo) InsertArticles(ctx context.Context, articles []Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, a := range articles {
		if a.ContentStatus == "" {
			a.ContentStatus = ContentPending
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO articles (id, source_id, title, summary, content, url, cover_url, author,
			                      published_at, fetched_at, content_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, a.ID, a.SourceID, a.Title, a.Summary, a.Content, a.URL, a.CoverURL, a.Author,
			a.PublishedAt.UTC(), a.FetchedAt.UTC(), a.ContentStatus)
		if err != nil {
			return 0, fmt.Errorf("failed to insert article %s: %w", a.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit articles: %w", err)
	}
	return inserted, nil
}

func (r *ArticleRepo) ListArticles(ctx context.Context, sourceID string, limit int) ([]Article, error) {
	var articles []Article
	err := r.db.SelectContext(ctx, &articles, `
		SELECT `+articleColumns+` FROM articles
		WHERE source_id = ?
		ORDER BY published_at DESC, id
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return articles, nil
}

// ListRecentArticles returns the newest articles across all visible sources.
func (r *ArticleRepo) ListRecentArticles(ctx context.Context, limit int) ([]Article, error) {
	var articles []Article
	err := r.db.SelectContext(ctx, &articles, `
		SELECT a.id, a.source_id, a.title, a.summary, a.content, a.url, a.cover_url, a.author, a.published_at,
		       a.fetched_at, a.content_status, a.content_error, a.content_extracted_at, a.extraction_attempts
		FROM articles a
		JOIN sources s ON s.id = a.source_id
		WHERE s.status = ?
		ORDER BY a.published_at DESC, a.id
		LIMIT ?
	`, SourceNormal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent articles: %w", err)
	}
	return articles, nil
}

// QueryArticles returns one page of articles matching q and the number of
// matches across all pages.
func (r *ArticleRepo) QueryArticles(ctx context.Context, q ArticleQuery) ([]Article, int, error) {
	var (
		where []string
		args  []any
	)
	if q.SourceID != "" {
		where = append(where, "a.source_id = ?")
		args = append(args, q.SourceID)
	} else {
		where = append(where, "s.status = ?")
		args = append(args, SourceNormal)
	}
	if q.Before != nil {
		where = append(where, "a.published_at < ?")
		args = append(args, q.Before.UTC())
	}
	if q.After != nil {
		where = append(where, "a.published_at > ?")
		args = append(args, q.After.UTC())
	}

	from := ` FROM articles a JOIN sources s ON s.id = a.source_id WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+from, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count articles: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	articles := []Article{}
	err := r.db.SelectContext(ctx, &articles, `
		SELECT a.id, a.source_id, a.title, a.summary, a.content, a.url, a.cover_url, a.author, a.published_at,
		       a.fetched_at, a.content_status, a.content_error, a.content_extracted_at, a.extraction_attempts`+
		from+`
		ORDER BY a.published_at DESC, a.id
		LIMIT ? OFFSET ?
	`, append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query articles: %w", err)
	}
	return articles, total, nil
}

func (r *ArticleRepo) GetArticleCount(ctx context.Context, sourceID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM articles WHERE source_id = ?`, sourceID); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

func (r *ArticleRepo) GetArticlesForExtraction(ctx context.Context, sourceID string, limit int) ([]ArticleForExtraction, error) {
	var items []ArticleForExtraction
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, url FROM articles
		WHERE source_id = ? AND content_status = ? AND extraction_attempts < 3
		ORDER BY published_at DESC
		LIMIT ?
	`, sourceID, ContentPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get articles for extraction: %w", err)
	}
	return items, nil
}

func (r *ArticleRepo) UpdateExtractedContent(ctx context.Context, id string, content string, extractedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET content = ?, content_status = ?, content_error = '', content_extracted_at = ?,
		    extraction_attempts = extraction_attempts + 1
		WHERE id = ?
	`, content, ContentSuccess, extractedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}
	return nil
}

// UpdateExtractionStatus records a failed or skipped attempt. Failed rows
// stay pending until they run out of attempts.
func (r *ArticleRepo) UpdateExtractionStatus(ctx context.Context, id string, status ContentStatus, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET extraction_attempts = extraction_attempts + 1,
		    content_error = ?,
		    content_status = CASE
		        WHEN ? = 'failed' AND extraction_attempts + 1 < 3 THEN 'pending'
		        ELSE ?
		    END
		WHERE id = ?
	`, errorMsg, status, status, id)
	if err != nil {
		return fmt.Errorf("failed to update extraction status: %w", err)
	}
	return nil
}

func (r *ArticleRepo) DeleteArticlesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE published_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune articles: %w", err)
	}
	return res.RowsAffected()
}
