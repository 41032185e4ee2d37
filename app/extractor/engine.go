package extractor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lysyi3m/mp-comb/app/browser"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/samber/lo"
)

const (
	DefaultWeReadURL = "https://weread.qq.com"
	DefaultPageSize  = 10

	maxAttempts = 2
)

type PagePool interface {
	Acquire(ctx context.Context) (browser.Page, error)
}

type Config struct {
	Timeout time.Duration
	// BacklogTimeout bounds one FetchBacklog call across all of its pages.
	BacklogTimeout time.Duration
	WeReadURL      string
	PageSize       int
}

// Engine turns platform pages into structured records. Every call runs in a
// fresh browsing context borrowed from the pool and closed before return.
type Engine struct {
	pool   PagePool
	config Config
	now    func() time.Time
}

func NewEngine(pool PagePool, config Config) *Engine {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BacklogTimeout <= 0 {
		config.BacklogTimeout = 8 * config.Timeout
	}
	if config.WeReadURL == "" {
		config.WeReadURL = DefaultWeReadURL
	}
	config.WeReadURL = strings.TrimRight(config.WeReadURL, "/")
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	return &Engine{
		pool:   pool,
		config: config,
		now:    time.Now,
	}
}

type pageFunc func(ctx context.Context, page browser.Page) error

// withPage loads url in a new context and hands it to fn. Timeouts and
// navigation failures get exactly one more attempt in another context.
func (e *Engine) withPage(ctx context.Context, url string, cookies []browser.Cookie, fn pageFunc) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = e.attempt(ctx, url, cookies, fn)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			slog.Debug("Retrying extraction in a fresh context", "url", url, "attempt", attempt, "error", err)
		}
	}

	var ee *ExtractionError
	if errors.As(err, &ee) && ee.URL == "" {
		ee.URL = url
	}
	return err
}

func (e *Engine) attempt(ctx context.Context, url string, cookies []browser.Cookie, fn pageFunc) error {
	page, err := e.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExtractionError{Reason: ReasonNavigation, URL: url, Err: err}
	}
	defer page.Close()

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	if len(cookies) > 0 {
		if err := page.SetCookies(attemptCtx, cookies); err != nil {
			return attemptError(ctx, attemptCtx, url, ReasonNavigation, err)
		}
	}

	if err := page.Navigate(attemptCtx, url); err != nil {
		return attemptError(ctx, attemptCtx, url, ReasonNavigation, err)
	}

	if err := fn(attemptCtx, page); err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) || errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrRateLimited) {
			return err
		}
		return attemptError(ctx, attemptCtx, url, ReasonNavigation, err)
	}
	return nil
}

func attemptError(ctx, attemptCtx context.Context, url string, reason Reason, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ExtractionError{Reason: ReasonTimeout, URL: url, Err: err}
	}
	return &ExtractionError{Reason: reason, URL: url, Err: err}
}

func retryable(err error) bool {
	return IsReason(err, ReasonTimeout) || IsReason(err, ReasonNavigation)
}

// readBody returns the rendered markup and its visible text. JSON endpoints
// render as a bare text body.
func readBody(ctx context.Context, page browser.Page) (string, string, error) {
	location, err := page.Location(ctx)
	if err != nil {
		return "", "", err
	}
	if isLoginLocation(location) {
		return "", "", ErrAuthRejected
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return "", "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, "", parseError("unreadable markup: %v", err)
	}
	return html, strings.TrimSpace(doc.Find("body").Text()), nil
}

func isLoginLocation(location string) bool {
	return strings.Contains(location, "/web/login")
}

func sessionCookies(cred database.Credential) []browser.Cookie {
	return lo.Map(cred.Session.Cookies, func(c database.Cookie, _ int) browser.Cookie {
		return browser.Cookie(c)
	})
}
