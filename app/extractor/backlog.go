package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lysyi3m/mp-comb/app/browser"
	"github.com/lysyi3m/mp-comb/app/database"
)

// Item is one article in a source's history.
type Item struct {
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	CoverURL    string    `json:"cover_url"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
}

// BacklogQuery bounds a history fetch. Items published before Since are
// not returned; a nil Since means no cursor yet.
type BacklogQuery struct {
	Since *time.Time
	Limit int
}

type backlogResponse struct {
	HasMore *int `json:"hasMore"`
	Reviews []struct {
		Review struct {
			MPInfo *struct {
				OriginalID string          `json:"originalId"`
				DocURL     string          `json:"doc_url"`
				Title      string          `json:"title"`
				Content    string          `json:"content"`
				PicURL     string          `json:"pic_url"`
				MPName     string          `json:"mp_name"`
				Time       json.RawMessage `json:"time"`
			} `json:"mpInfo"`
		} `json:"review"`
	} `json:"reviews"`
}

// FetchBacklog lists a source's articles newest first, stopping at the
// cursor.
func (e *Engine) FetchBacklog(ctx context.Context, sourceID string, cred database.Credential, q BacklogQuery) ([]Item, error) {
	bookID, err := BookIDFromBiz(sourceID)
	if err != nil {
		return nil, &ExtractionError{Reason: ReasonParse, Err: err}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	pageSize := e.config.PageSize
	maxPages := (limit+pageSize-1)/pageSize + 1
	cookies := sessionCookies(cred)

	callCtx, cancel := context.WithTimeout(ctx, e.config.BacklogTimeout)
	defer cancel()

	seen := make(map[string]bool)
	var items []Item

	for pageNo := 0; pageNo < maxPages; pageNo++ {
		pageURL := fmt.Sprintf("%s/web/mp/articles?bookId=%s&offset=%d",
			e.config.WeReadURL, url.QueryEscape(bookID), pageNo*pageSize)

		var batch []Item
		var more bool
		err := e.withPage(callCtx, pageURL, cookies, func(ctx context.Context, page browser.Page) error {
			html, body, err := readBody(ctx, page)
			if err != nil {
				return err
			}
			batch, more, err = parseBacklog(html, body, e.now())
			return err
		})
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, &ExtractionError{Reason: ReasonTimeout, URL: pageURL, Err: callCtx.Err()}
			}
			return nil, err
		}

		reachedCursor := false
		for _, it := range batch {
			if seen[it.ContentID] {
				continue
			}
			seen[it.ContentID] = true

			if q.Since != nil && it.PublishedAt.Before(*q.Since) {
				reachedCursor = true
				continue
			}
			items = append(items, it)
		}

		if reachedCursor || !more || len(batch) == 0 || len(items) >= limit {
			break
		}
	}

	slices.SortStableFunc(items, func(a, b Item) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// parseBacklog reads one page of history. JSON is the normal shape; markup
// is read for article anchors instead.
func parseBacklog(html, body string, now time.Time) ([]Item, bool, error) {
	if err := classify(body); err != nil {
		return nil, false, err
	}

	var resp backlogResponse
	if err := json.Unmarshal([]byte(body), &resp); err == nil {
		items := make([]Item, 0, len(resp.Reviews))
		for _, r := range resp.Reviews {
			info := r.Review.MPInfo
			if info == nil || info.DocURL == "" {
				continue
			}

			published, ok := ParsePublishTime(strings.Trim(string(info.Time), `"`))
			if !ok {
				published = now.UTC()
			}

			items = append(items, Item{
				ContentID:   ContentID(info.DocURL),
				Title:       NormalizeTitle(info.Title),
				Summary:     Summarize(info.Content),
				URL:         CanonicalURL(info.DocURL),
				CoverURL:    strings.TrimSpace(info.PicURL),
				Author:      NormalizeTitle(info.MPName),
				PublishedAt: published,
			})
		}

		more := len(resp.Reviews) > 0
		if resp.HasMore != nil {
			more = *resp.HasMore != 0
		}
		return items, more, nil
	}

	items, err := parseBacklogMarkup(html, now)
	return items, false, err
}

func parseBacklogMarkup(html string, now time.Time) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, parseError("unreadable markup: %v", err)
	}

	var items []Item
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := attr(a, "href")
		if !IsArticleURL(href) {
			return
		}

		title := NormalizeTitle(firstNonEmpty(attr(a, "title"), a.Text()))
		if title == "" {
			return
		}

		published := now.UTC()
		stamp := firstNonEmpty(attr(a, "data-time"), a.Closest("[data-time]").AttrOr("data-time", ""))
		if t, ok := ParsePublishTime(stamp); ok {
			published = t
		}

		items = append(items, Item{
			ContentID:   ContentID(href),
			Title:       title,
			URL:         CanonicalURL(href),
			PublishedAt: published,
		})
	})

	if len(items) == 0 {
		return nil, parseError("no articles in response")
	}
	return items, nil
}
