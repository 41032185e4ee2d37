package database

import (
	"context"
	"time"
)

type CredentialRepository interface {
	GetCredential(ctx context.Context, id string) (*Credential, error)
	ListCredentials(ctx context.Context) ([]Credential, error)

	// UpsertCredential inserts c or refreshes the session of an existing
	// identity and marks it active. It reports whether a row was created.
	UpsertCredential(ctx context.Context, c Credential) (bool, error)
	RecordLease(ctx context.Context, id string, usage int, usageDay string, usedAt time.Time) error
	UpdateCredentialStatus(ctx context.Context, id string, status CredentialStatus, checkedAt time.Time) error
}

type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*Source, error)
	ListSources(ctx context.Context, status SourceStatus) ([]Source, error)
	GetSourceCount(ctx context.Context) (int, error)

	// CreateSource inserts s unless a source with the same id exists. It
	// reports whether a row was created.
	CreateSource(ctx context.Context, s Source) (bool, error)
	UpdateSourceProgress(ctx context.Context, id string, latestArticleAt time.Time, newItems int) error
	RecordSourceError(ctx context.Context, id string, message string, at time.Time) error
	ClearSourceError(ctx context.Context, id string) error
	SetSourceStatus(ctx context.Context, id string, status SourceStatus) (bool, error)
	ResetUnread(ctx context.Context, id string) (bool, error)
}

type ArticleRepository interface {
	ExistingArticleIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertArticles(ctx context.Context, articles []Article) (int, error)

	ListArticles(ctx context.Context, sourceID string, limit int) ([]Article, error)
	ListRecentArticles(ctx context.Context, limit int) ([]Article, error)
	GetArticleCount(ctx context.Context, sourceID string) (int, error)

	GetArticlesForExtraction(ctx context.Context, sourceID string, limit int) ([]ArticleForExtraction, error)
	UpdateExtractedContent(ctx context.Context, id string, content string, extractedAt time.Time) error
	UpdateExtractionStatus(ctx context.Context, id string, status ContentStatus, errorMsg string) error

	DeleteArticlesBefore(ctx context.Context, before time.Time) (int64, error)
}

type SettingRepository interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	InsertSettingIfMissing(ctx context.Context, key, value string) (bool, error)
}
