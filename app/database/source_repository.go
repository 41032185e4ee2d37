package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ SourceRepository = (*SourceRepo)(nil)

type SourceRepo struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

const sourceColumns = `id, name, description, cover_url, latest_article_at, unread_count, status,
	last_error, last_error_at, created_at, updated_at`

func (r *SourceRepo) GetSource(ctx context.Context, id string) (*Source, error) {
	var s Source
	err := r.db.GetContext(ctx, &s, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &s, nil
}

// ListSources returns sources with the given status, or all of them when
// status is empty.
func (r *SourceRepo) ListSources(ctx context.Context, status SourceStatus) ([]Source, error) {
	var sources []Source
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &sources, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at`)
	} else {
		err = r.db.SelectContext(ctx, &sources, `SELECT `+sourceColumns+` FROM sources WHERE status = ? ORDER BY created_at`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

func (r *SourceRepo) GetSourceCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sources`); err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return count, nil
}

func (r *SourceRepo) CreateSource(ctx context.Context, s Source) (bool, error) {
	now := time.Now().UTC()
	if s.Status == "" {
		s.Status = SourceNormal
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, description, cover_url, latest_article_at, unread_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, s.Name, s.Description, s.CoverURL, s.LatestArticleAt, s.Status, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create source: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// UpdateSourceProgress advances the cursor (never backwards), adds newItems
// to the unread counter and clears any recorded failure.
func (r *SourceRepo) UpdateSourceProgress(ctx context.Context, id string, latestArticleAt time.Time, newItems int) error {
	latest := latestArticleAt.UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET latest_article_at = CASE
		        WHEN latest_article_at IS NULL OR latest_article_at < ? THEN ?
		        ELSE latest_article_at
		    END,
		    unread_count = unread_count + ?,
		    last_error = '', last_error_at = NULL,
		    updated_at = ?
		WHERE id = ?
	`, latest, latest, newItems, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source progress: %w", err)
	}
	return nil
}

func (r *SourceRepo) RecordSourceError(ctx context.Context, id string, message string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources SET last_error = ?, last_error_at = ? WHERE id = ?
	`, message, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record source error: %w", err)
	}
	return nil
}

func (r *SourceRepo) ClearSourceError(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources SET last_error = '', last_error_at = NULL WHERE id = ? AND last_error != ''
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear source error: %w", err)
	}
	return nil
}

func (r *SourceRepo) SetSourceStatus(ctx context.Context, id string, status SourceStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set source status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SourceRepo) ResetUnread(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sources SET unread_count = 0 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset unread counter: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
