package database

import (
	"time"
)

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialBlocked CredentialStatus = "blocked"
	CredentialExpired CredentialStatus = "expired"
)

type SourceStatus string

const (
	SourceNormal SourceStatus = "normal"
	SourceHidden SourceStatus = "hidden"
)

type ContentStatus string

const (
	ContentPending ContentStatus = "pending"
	ContentSuccess ContentStatus = "success"
	ContentFailed  ContentStatus = "failed"
	ContentSkipped ContentStatus = "skipped"
)

// Credential is a borrowed platform identity minted by a QR login.
type Credential struct {
	ID            string           `db:"id"`
	Name          string           `db:"name"`
	Session       SessionBlob      `db:"session"`
	Skey          string           `db:"skey"`
	Status        CredentialStatus `db:"status"`
	DailyUsage    int              `db:"daily_usage"`
	UsageDay      string           `db:"usage_day"` // YYYY-MM-DD the usage counter belongs to
	LastUsedAt    *time.Time       `db:"last_used_at"`
	LastCheckedAt *time.Time       `db:"last_checked_at"`
	BlockedAt     *time.Time       `db:"blocked_at"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// UsageOn returns the usage counter as seen on day, which is zero once the
// stored counter belongs to an earlier day.
func (c Credential) UsageOn(day string) int {
	if c.UsageDay != day {
		return 0
	}
	return c.DailyUsage
}

// Source is a tracked official account.
type Source struct {
	ID              string       `db:"id"` // platform business id (__biz)
	Name            string       `db:"name"`
	Description     string       `db:"description"`
	CoverURL        string       `db:"cover_url"`
	LatestArticleAt *time.Time   `db:"latest_article_at"`
	UnreadCount     int          `db:"unread_count"`
	Status          SourceStatus `db:"status"`
	LastError       string       `db:"last_error"`
	LastErrorAt     *time.Time   `db:"last_error_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

type Article struct {
	ID                 string        `db:"id"`
	SourceID           string        `db:"source_id"`
	Title              string        `db:"title"`
	Summary            string        `db:"summary"`
	Content            string        `db:"content"`
	URL                string        `db:"url"`
	CoverURL           string        `db:"cover_url"`
	Author             string        `db:"author"`
	PublishedAt        time.Time     `db:"published_at"`
	FetchedAt          time.Time     `db:"fetched_at"`
	ContentStatus      ContentStatus `db:"content_status"`
	ContentError       string        `db:"content_error"`
	ContentExtractedAt *time.Time    `db:"content_extracted_at"`
	ExtractionAttempts int           `db:"extraction_attempts"`
}

// ArticleQuery selects a page of articles, newest first. Before and After
// are exclusive bounds on the publish time. An empty SourceID means every
// visible source.
type ArticleQuery struct {
	SourceID string
	Before   *time.Time
	After    *time.Time
	Limit    int
	Offset   int
}

type ArticleForExtraction struct {
	ID  string `db:"id"`
	URL string `db:"url"`
}
