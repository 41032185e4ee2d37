package api

import (
	"context"
	"time"

	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/auth"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/feed"
	"github.com/lysyi3m/mp-comb/app/ingest"
	"github.com/lysyi3m/mp-comb/app/proxy"
	"github.com/lysyi3m/mp-comb/app/settings"
	"github.com/lysyi3m/mp-comb/app/tasks"
)

type LoginManager interface {
	StartLogin(ctx context.Context) (*auth.LoginSession, error)
	PollLogin(ctx context.Context, token string) (*auth.LoginStatus, error)
}

type AccountLister interface {
	Summaries(ctx context.Context) ([]accounts.Summary, error)
}

type SourceService interface {
	AddByLink(ctx context.Context, link string) (*database.Source, bool, error)
	AddCandidate(ctx context.Context, c extractor.Candidate) (*database.Source, bool, error)
	Search(ctx context.Context, keyword string) ([]extractor.Candidate, error)
	GetSource(ctx context.Context, id string) (*database.Source, error)
	ListSources(ctx context.Context, status database.SourceStatus) ([]database.Source, error)
	SetVisibility(ctx context.Context, id string, status database.SourceStatus) error
	MarkRead(ctx context.Context, id string) error
	Refreshing(id string) bool
}

type ArticleLister interface {
	ListArticles(ctx context.Context, sourceID string, limit int) ([]database.Article, error)
	ListRecentArticles(ctx context.Context, limit int) ([]database.Article, error)
	QueryArticles(ctx context.Context, q database.ArticleQuery) ([]database.Article, int, error)
}

type SettingsStore interface {
	Get(ctx context.Context) (settings.Settings, error)
	SetMany(ctx context.Context, values map[string]string) error
}

type GeneratorInterface interface {
	Source(src database.Source, articles []database.Article) (string, error)
	All(articles []database.Article, sources map[string]string) (string, error)
	JSONSource(src database.Source, articles []database.Article) feed.JSONFeed
	JSONAll(articles []database.Article, sources map[string]string) feed.JSONFeed
	OPML(sources []database.Source) ([]byte, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, raw string) (*proxy.Image, error)
}

var (
	_ GeneratorInterface = (*feed.Generator)(nil)
	_ SourceService      = (*ingest.Pipeline)(nil)
	_ LoginManager       = (*auth.Manager)(nil)
	_ AccountLister      = (*accounts.Pool)(nil)
	_ SettingsStore      = (*settings.Store)(nil)
	_ ArticleLister      = (*database.ArticleRepo)(nil)
	_ ImageFetcher       = (*proxy.Proxy)(nil)
)

// Services bundles what the handlers depend on.
type Services struct {
	Logins    LoginManager
	Accounts  AccountLister
	Sources   SourceService
	Articles  ArticleLister
	Settings  SettingsStore
	Scheduler tasks.TaskSchedulerInterface
	Images    ImageFetcher
}

type Handler struct {
	logins    LoginManager
	accounts  AccountLister
	sources   SourceService
	articles  ArticleLister
	settings  SettingsStore
	scheduler tasks.TaskSchedulerInterface
	images    ImageFetcher
	generator GeneratorInterface
	now       func() time.Time
}

type addFeedRequest struct {
	Mode        string `json:"mode" binding:"required"`
	Value       string `json:"value" binding:"required"`
	Name        string `json:"name"`
	Cover       string `json:"cover"`
	Description string `json:"description"`
}

type visibilityRequest struct {
	Status database.SourceStatus `json:"status" binding:"required"`
}

type articleQueryRequest struct {
	Source  string `form:"source"`
	Before  string `form:"before"`
	After   string `form:"after"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	Size    int    `form:"size" binding:"omitempty,min=1,max=100"`
	Content *bool  `form:"content"`
}

type articleView struct {
	ID            string                 `json:"id"`
	SourceID      string                 `json:"source_id"`
	SourceName    string                 `json:"source_name,omitempty"`
	Title         string                 `json:"title"`
	Summary       string                 `json:"summary"`
	Content       string                 `json:"content,omitempty"`
	URL           string                 `json:"url"`
	CoverURL      string                 `json:"cover_url,omitempty"`
	Author        string                 `json:"author,omitempty"`
	PublishedAt   time.Time              `json:"published_at"`
	ContentStatus database.ContentStatus `json:"content_status"`
}

type sourceView struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	CoverURL         string                `json:"cover_url"`
	Status           database.SourceStatus `json:"status"`
	UnreadCount      int                   `json:"unread_count"`
	LatestArticleAt  *time.Time            `json:"latest_article_at,omitempty"`
	LastError        string                `json:"last_error,omitempty"`
	LastErrorAt      *time.Time            `json:"last_error_at,omitempty"`
	RSSPath          string                `json:"rss_path"`
	Refreshing       bool                  `json:"refreshing"`
	Queued           bool                  `json:"queued"`
	Failures         int                   `json:"failures"`
	SuppressedCycles int                   `json:"suppressed_cycles"`
	CreatedAt        time.Time             `json:"created_at"`
}
