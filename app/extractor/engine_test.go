package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/browser/browsertest"
)

const hangingLink = "https://mp.weixin.qq.com/s/slow"

func TestExtractionTimeout(t *testing.T) {
	e, fake := newTestEngine(t, 30*time.Millisecond)
	fake.Route(hangingLink, browsertest.Site{Hang: true})

	_, err := e.ParseArticleLink(context.Background(), hangingLink)

	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonTimeout {
		t.Errorf("Expected timeout, got %s", ee.Reason)
	}
	if ee.URL != hangingLink {
		t.Errorf("Expected url %s, got %s", hangingLink, ee.URL)
	}
	if fake.Navigations(hangingLink) != 2 {
		t.Errorf("Expected one retry, got %d navigations", fake.Navigations(hangingLink))
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}

func TestNavigationRetriedInFreshContext(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	link := "https://mp.weixin.qq.com/s/flaky"
	fake.Route(link, browsertest.Site{
		HTML:      `<html><body><script>var biz = "QQ==";</script></body></html>`,
		FailTimes: 1,
	})

	meta, err := e.ParseArticleLink(context.Background(), link)
	if err != nil {
		t.Fatalf("Expected the retry to succeed, got %v", err)
	}
	if meta.SourceID != "QQ==" {
		t.Errorf("Expected QQ==, got %q", meta.SourceID)
	}
	if fake.Created() != 2 {
		t.Errorf("Expected two contexts, got %d", fake.Created())
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}

func TestNavigationFailsAfterRetry(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	link := "https://mp.weixin.qq.com/s/down"
	fake.Route(link, browsertest.Site{FailTimes: 10})

	_, err := e.ParseArticleLink(context.Background(), link)
	if !IsReason(err, ReasonNavigation) {
		t.Errorf("Expected navigation failure, got %v", err)
	}
	if fake.Navigations(link) != 2 {
		t.Errorf("Expected 2 navigations, got %d", fake.Navigations(link))
	}
}

func TestUnreachableIsNavigationFailure(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)

	_, err := e.ParseArticleLink(context.Background(), "https://mp.weixin.qq.com/s/nowhere")
	if !IsReason(err, ReasonNavigation) {
		t.Errorf("Expected navigation failure, got %v", err)
	}
	if !errors.Is(err, browsertest.ErrUnreachable) {
		t.Errorf("Expected the cause to be kept, got %v", err)
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}

func TestParseFailureNotRetried(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	link := "https://mp.weixin.qq.com/s/gone"
	fake.Route(link, browsertest.Site{HTML: "<html><body>This content has been deleted</body></html>"})

	_, err := e.ParseArticleLink(context.Background(), link)
	if !IsReason(err, ReasonParse) {
		t.Errorf("Expected parse failure, got %v", err)
	}
	if fake.Navigations(link) != 1 {
		t.Errorf("Expected a single navigation, got %d", fake.Navigations(link))
	}
}

func TestCallerCancellation(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	fake.Route(hangingLink, browsertest.Site{Hang: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.ParseArticleLink(ctx, hangingLink)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if fake.Navigations(hangingLink) != 1 {
		t.Errorf("Expected no retry after cancellation, got %d navigations", fake.Navigations(hangingLink))
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}
