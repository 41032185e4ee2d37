package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/browser/browsertest"
)

const testBiz = "MzI3Mzc2NDY4MA=="

var backlogBase = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

// day returns the publish time of the n-th article, newer for larger n.
func day(n int) time.Time {
	return backlogBase.Add(time.Duration(n) * 24 * time.Hour)
}

func review(n int) string {
	return fmt.Sprintf(`{"review":{"mpInfo":{"originalId":"o%d","doc_url":"http://mp.weixin.qq.com/s?__biz=%s&mid=%d&idx=1&sn=s%d","title":"Post %d","content":"Digest %d","pic_url":"https://img.example/%d.jpg","mp_name":"Tech Daily","time":%d}}}`,
		n, testBiz, 1000+n, n, n, n, n, day(n).Unix())
}

func backlogPage(hasMore bool, ns ...int) string {
	reviews := make([]string, len(ns))
	for i, n := range ns {
		reviews[i] = review(n)
	}
	more := 0
	if hasMore {
		more = 1
	}
	return jsonPage(fmt.Sprintf(`{"reviews":[%s],"hasMore":%d}`, strings.Join(reviews, ","), more))
}

func routeBacklog(fake *browsertest.Engine, pages map[int]string) {
	fake.Fallback(func(url string) (browsertest.Site, bool) {
		for offset, html := range pages {
			if strings.HasSuffix(url, fmt.Sprintf("&offset=%d", offset)) {
				return browsertest.Site{HTML: html}, true
			}
		}
		return browsertest.Site{}, false
	})
}

func backlogURL(offset int) string {
	return fmt.Sprintf("%s/web/mp/articles?bookId=MP_WXS_3273764680&offset=%d", DefaultWeReadURL, offset)
}

func TestParseBacklog(t *testing.T) {
	body := strings.TrimSuffix(strings.TrimPrefix(backlogPage(true, 2, 1), "<html><head></head><body><pre>"), "</pre></body></html>")

	items, more, err := parseBacklog("", body, time.Now())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !more {
		t.Error("Expected more pages")
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	it := items[0]
	if it.ContentID != testBiz+":1002:1" {
		t.Errorf("Expected content id %s:1002:1, got %s", testBiz, it.ContentID)
	}
	if it.Title != "Post 2" || it.Summary != "Digest 2" || it.Author != "Tech Daily" {
		t.Errorf("Unexpected item fields: %+v", it)
	}
	if !strings.HasPrefix(it.URL, "https://mp.weixin.qq.com/s?__biz=") {
		t.Errorf("Expected canonical url, got %s", it.URL)
	}
	if !it.PublishedAt.Equal(day(2)) {
		t.Errorf("Expected %v, got %v", day(2), it.PublishedAt)
	}
}

func TestParseBacklogMarkup(t *testing.T) {
	html := `<html><body><ul>
<li data-time="1714521600"><a href="https://mp.weixin.qq.com/s/tokA">First</a></li>
<li><a href="https://example.com/ad">Ad</a></li>
<li><a href="https://mp.weixin.qq.com/s/tokB" title="Second"></a></li>
</ul></body></html>`
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	items, more, err := parseBacklog(html, "First Ad", now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if more {
		t.Error("Expected markup pages not to page further")
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ContentID != "tokA" || !items[0].PublishedAt.Equal(time.Unix(1714521600, 0)) {
		t.Errorf("Unexpected first item: %+v", items[0])
	}
	if items[1].Title != "Second" || !items[1].PublishedAt.Equal(now) {
		t.Errorf("Unexpected second item: %+v", items[1])
	}
}

func TestParseBacklogUnreadable(t *testing.T) {
	_, _, err := parseBacklog("<html><body>nothing here</body></html>", "nothing here", time.Now())
	if !IsReason(err, ReasonParse) {
		t.Errorf("Expected parse failure, got %v", err)
	}
}

func TestFetchBacklogStopsAtCursor(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	routeBacklog(fake, map[int]string{
		0: backlogPage(true, 5, 4),
		2: backlogPage(true, 3, 2),
		4: backlogPage(false, 1),
	})

	since := day(3)
	items, err := e.FetchBacklog(context.Background(), testBiz, testCredential(), BacklogQuery{Since: &since, Limit: 50})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	for i, n := range []int{5, 4, 3} {
		if !items[i].PublishedAt.Equal(day(n)) {
			t.Errorf("Expected item %d published %v, got %v", i, day(n), items[i].PublishedAt)
		}
	}
	if fake.Navigations(backlogURL(4)) != 0 {
		t.Error("Expected paging to stop once the cursor was reached")
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}

func TestFetchBacklogLimit(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	routeBacklog(fake, map[int]string{
		0: backlogPage(true, 5, 4),
		2: backlogPage(true, 3, 2),
		4: backlogPage(false, 1),
	})

	items, err := e.FetchBacklog(context.Background(), testBiz, testCredential(), BacklogQuery{Limit: 3})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	if !items[0].PublishedAt.Equal(day(5)) || !items[2].PublishedAt.Equal(day(3)) {
		t.Errorf("Expected newest three, got %v .. %v", items[0].PublishedAt, items[2].PublishedAt)
	}
}

func TestFetchBacklogDeduplicates(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	routeBacklog(fake, map[int]string{
		0: backlogPage(true, 3, 2),
		2: backlogPage(false, 2, 1),
	})

	items, err := e.FetchBacklog(context.Background(), testBiz, testCredential(), BacklogQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected 3 distinct items, got %d", len(items))
	}
}

func TestFetchBacklogRateLimited(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	routeBacklog(fake, map[int]string{0: jsonPage(`{"errcode":-2013,"errmsg":"too frequent"}`)})

	_, err := e.FetchBacklog(context.Background(), testBiz, testCredential(), BacklogQuery{Limit: 10})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

func TestFetchBacklogInvalidSource(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)

	_, err := e.FetchBacklog(context.Background(), "ABC123", testCredential(), BacklogQuery{Limit: 10})
	if !IsReason(err, ReasonParse) {
		t.Errorf("Expected parse failure, got %v", err)
	}
	if fake.Created() != 0 {
		t.Errorf("Expected no browsing context, got %d", fake.Created())
	}
}

func TestFetchBacklogCallDeadline(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	e.config.BacklogTimeout = 50 * time.Millisecond
	routeBacklog(fake, map[int]string{
		0: backlogPage(true, 5, 4),
	})
	fake.Route(backlogURL(2), browsertest.Site{Hang: true})

	start := time.Now()
	_, err := e.FetchBacklog(context.Background(), testBiz, testCredential(), BacklogQuery{Limit: 50})
	elapsed := time.Since(start)

	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonTimeout {
		t.Errorf("Expected timeout, got %s", ee.Reason)
	}
	if ee.URL != backlogURL(2) {
		t.Errorf("Expected url %s, got %s", backlogURL(2), ee.URL)
	}
	if elapsed >= time.Second {
		t.Errorf("Expected the call to stop at its own deadline, took %v", elapsed)
	}
	if fake.Navigations(backlogURL(2)) != 1 {
		t.Errorf("Expected no retry after the call deadline, got %d navigations", fake.Navigations(backlogURL(2)))
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}
