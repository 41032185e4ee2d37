package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/settings"
	"github.com/samber/lo"
)

var (
	ErrFeedNotFound          = errors.New("feed not found")
	ErrSourceRefreshConflict = errors.New("source refresh already in progress")
	ErrInvalidInput          = errors.New("invalid input")
)

type Extractor interface {
	ParseArticleLink(ctx context.Context, url string) (*extractor.ArticleMeta, error)
	SearchSource(ctx context.Context, keyword string, cred database.Credential) ([]extractor.Candidate, error)
	FetchBacklog(ctx context.Context, sourceID string, cred database.Credential, q extractor.BacklogQuery) ([]extractor.Item, error)
}

type AccountPool interface {
	Lease(ctx context.Context) (*accounts.Lease, error)
	Release(ctx context.Context, lease *accounts.Lease, outcome accounts.Outcome) error
}

type SettingsReader interface {
	Get(ctx context.Context) (settings.Settings, error)
}

type Pipeline struct {
	sources   database.SourceRepository
	articles  database.ArticleRepository
	extractor Extractor
	accounts  AccountPool
	settings  SettingsReader
	locks     *keyedLock
	now       func() time.Time
}

func NewPipeline(sources database.SourceRepository, articles database.ArticleRepository,
	ext Extractor, pool AccountPool, settings SettingsReader) *Pipeline {
	return &Pipeline{
		sources:   sources,
		articles:  articles,
		extractor: ext,
		accounts:  pool,
		settings:  settings,
		locks:     newKeyedLock(),
		now:       time.Now,
	}
}

// AddByLink registers the account behind an article link. Adding the same
// account twice returns the stored source and created=false.
func (p *Pipeline) AddByLink(ctx context.Context, link string) (*database.Source, bool, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, false, fmt.Errorf("%w: link is required", ErrInvalidInput)
	}

	if biz := extractor.BizFromURL(link); biz != "" {
		existing, err := p.sources.GetSource(ctx, biz)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up source: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	meta, err := p.extractor.ParseArticleLink(ctx, link)
	if err != nil {
		return nil, false, err
	}

	return p.addSource(ctx, database.Source{
		ID:          meta.SourceID,
		Name:        meta.SourceName,
		Description: meta.Description,
		CoverURL:    meta.CoverURL,
	})
}

// AddCandidate registers a search result.
func (p *Pipeline) AddCandidate(ctx context.Context, c extractor.Candidate) (*database.Source, bool, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return nil, false, fmt.Errorf("%w: source id is required", ErrInvalidInput)
	}
	if _, err := extractor.BookIDFromBiz(c.ID); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return p.addSource(ctx, database.Source{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CoverURL:    c.CoverURL,
	})
}

func (p *Pipeline) addSource(ctx context.Context, s database.Source) (*database.Source, bool, error) {
	if s.Name == "" {
		s.Name = "Unnamed account " + s.ID
	}
	s.Status = database.SourceNormal

	created, err := p.sources.CreateSource(ctx, s)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create source: %w", err)
	}

	stored, err := p.sources.GetSource(ctx, s.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load source: %w", err)
	}
	if stored == nil {
		return nil, false, fmt.Errorf("source %s vanished after insert", s.ID)
	}

	if created {
		slog.Info("Source added", "source", s.ID, "name", stored.Name)
	}
	return stored, created, nil
}

// Search looks accounts up with a leased credential.
func (p *Pipeline) Search(ctx context.Context, keyword string) ([]extractor.Candidate, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []extractor.Candidate{}, nil
	}

	lease, err := p.accounts.Lease(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := p.extractor.SearchSource(ctx, keyword, lease.Credential)

	if relErr := p.accounts.Release(ctx, lease, OutcomeFor(ctx, err)); relErr != nil {
		slog.Error("Failed to release credential", "credential", lease.Credential.ID, "error", relErr)
	}
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

type RefreshResult struct {
	SourceID        string           `json:"source_id"`
	Fetched         int              `json:"fetched"`
	NewItems        int              `json:"new_items"`
	LatestArticleAt *time.Time       `json:"latest_article_at,omitempty"`
	Outcome         accounts.Outcome `json:"outcome"`
}

// RefreshSource pulls new articles for one source. Only one refresh per
// source runs at a time; a second caller gets ErrSourceRefreshConflict.
func (p *Pipeline) RefreshSource(ctx context.Context, id string) (*RefreshResult, error) {
	unlock, ok := p.locks.TryLock(id)
	if !ok {
		return nil, ErrSourceRefreshConflict
	}
	defer unlock()

	src, err := p.sources.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	if src == nil {
		return nil, ErrFeedNotFound
	}

	cfg, err := p.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	lease, err := p.accounts.Lease(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.recordError(ctx, id, err)
		}
		return nil, err
	}

	result := &RefreshResult{SourceID: id, Outcome: accounts.OutcomeCancelled}
	defer func() {
		if relErr := p.accounts.Release(ctx, lease, result.Outcome); relErr != nil {
			slog.Error("Failed to release credential", "credential", lease.Credential.ID, "error", relErr)
		}
	}()

	items, err := p.extractor.FetchBacklog(ctx, id, lease.Credential, extractor.BacklogQuery{
		Since: src.LatestArticleAt,
		Limit: cfg.MaxItems,
	})
	result.Outcome = OutcomeFor(ctx, err)
	if err != nil {
		if result.Outcome != accounts.OutcomeCancelled {
			p.recordError(ctx, id, err)
		}
		return result, err
	}
	result.Fetched = len(items)

	// The cursor is inclusive, so the newest article comes back on every
	// pass. Once pruning has removed it, it must not be stored again.
	if cfg.RetentionDays > 0 {
		cutoff := p.now().UTC().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
		items = lo.Filter(items, func(it extractor.Item, _ int) bool {
			return !it.PublishedAt.Before(cutoff)
		})
	}

	inserted, latest, err := p.persist(ctx, id, items)
	if err != nil {
		p.recordError(ctx, id, err)
		return result, err
	}
	result.NewItems = inserted

	if inserted > 0 {
		if err := p.sources.UpdateSourceProgress(ctx, id, latest, inserted); err != nil {
			return result, fmt.Errorf("failed to update source progress: %w", err)
		}
		result.LatestArticleAt = &latest
	} else {
		result.LatestArticleAt = src.LatestArticleAt
		if src.LastError != "" {
			if err := p.sources.ClearSourceError(ctx, id); err != nil {
				slog.Warn("Failed to clear source error", "source", id, "error", err)
			}
		}
	}

	slog.Info("Source refreshed", "source", id, "fetched", len(items), "new", inserted, "credential", lease.Credential.ID)

	return result, nil
}

// persist stores the items not seen before and returns how many rows were
// written and the newest publish time among them.
func (p *Pipeline) persist(ctx context.Context, sourceID string, items []extractor.Item) (int, time.Time, error) {
	items = lo.UniqBy(items, func(it extractor.Item) string { return it.ContentID })
	if len(items) == 0 {
		return 0, time.Time{}, nil
	}

	existing, err := p.articles.ExistingArticleIDs(ctx, lo.Map(items, func(it extractor.Item, _ int) string {
		return it.ContentID
	}))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to check existing articles: %w", err)
	}

	fresh := lo.Filter(items, func(it extractor.Item, _ int) bool {
		return !existing[it.ContentID]
	})
	if len(fresh) == 0 {
		return 0, time.Time{}, nil
	}

	now := p.now().UTC()
	inserted, err := p.articles.InsertArticles(ctx, lo.Map(fresh, func(it extractor.Item, _ int) database.Article {
		return database.Article{
			ID:            it.ContentID,
			SourceID:      sourceID,
			Title:         it.Title,
			Summary:       it.Summary,
			URL:           it.URL,
			CoverURL:      it.CoverURL,
			Author:        it.Author,
			PublishedAt:   it.PublishedAt.UTC(),
			FetchedAt:     now,
			ContentStatus: database.ContentPending,
		}
	}))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to store articles: %w", err)
	}

	latest := lo.MaxBy(fresh, func(a, b extractor.Item) bool {
		return a.PublishedAt.After(b.PublishedAt)
	}).PublishedAt.UTC()

	return inserted, latest, nil
}

func (p *Pipeline) recordError(ctx context.Context, id string, err error) {
	if recErr := p.sources.RecordSourceError(context.WithoutCancel(ctx), id, err.Error(), p.now()); recErr != nil {
		slog.Warn("Failed to record source error", "source", id, "error", recErr)
	}
}

// Refreshing reports whether a refresh of id is running.
func (p *Pipeline) Refreshing(id string) bool {
	return p.locks.Held(id)
}

func (p *Pipeline) GetSource(ctx context.Context, id string) (*database.Source, error) {
	src, err := p.sources.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	if src == nil {
		return nil, ErrFeedNotFound
	}
	return src, nil
}

// ListSources returns sources with the given status, or all of them for "".
func (p *Pipeline) ListSources(ctx context.Context, status database.SourceStatus) ([]database.Source, error) {
	if status != "" && status != database.SourceNormal && status != database.SourceHidden {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return p.sources.ListSources(ctx, status)
}

func (p *Pipeline) SetVisibility(ctx context.Context, id string, status database.SourceStatus) error {
	if status != database.SourceNormal && status != database.SourceHidden {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	ok, err := p.sources.SetSourceStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	if !ok {
		return ErrFeedNotFound
	}

	slog.Info("Source visibility changed", "source", id, "status", string(status))
	return nil
}

func (p *Pipeline) MarkRead(ctx context.Context, id string) error {
	ok, err := p.sources.ResetUnread(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reset unread counter: %w", err)
	}
	if !ok {
		return ErrFeedNotFound
	}
	return nil
}
