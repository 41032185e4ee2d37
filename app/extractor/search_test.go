package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/browser/browsertest"
	"github.com/lysyi3m/mp-comb/app/database"
)

const searchJSON = `{"books":[
	{"bookInfo":{"bookId":"MP_WXS_3273764680","title":"Tech  Daily","cover":"https://img.example/a.png","intro":"<b>News</b> every day"}},
	{"bookInfo":{"bookId":"812443","title":"A novel"}},
	{"bookInfo":{"bookId":"MP_WXS_3273764680","title":"Tech Daily (dup)"}},
	{"bookInfo":{"bookId":"MP_WXS_42","title":"Answer"}}
]}`

func testCredential() database.Credential {
	return database.Credential{
		ID:   "1001",
		Name: "reader",
		Session: database.NewSessionBlob([]database.Cookie{
			{Name: "wr_vid", Value: "1001", Domain: ".weread.qq.com", Path: "/"},
			{Name: "wr_skey", Value: "k", Domain: ".weread.qq.com", Path: "/"},
		}, time.Now()),
	}
}

func jsonPage(body string) string {
	return "<html><head></head><body><pre>" + body + "</pre></body></html>"
}

func TestParseSearch(t *testing.T) {
	candidates, err := parseSearch(searchJSON)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].ID != "MzI3Mzc2NDY4MA==" {
		t.Errorf("Expected mapped business id, got %q", candidates[0].ID)
	}
	if candidates[0].Name != "Tech Daily" {
		t.Errorf("Expected first occurrence to win, got %q", candidates[0].Name)
	}
	if candidates[0].Description != "News every day" {
		t.Errorf("Expected stripped description, got %q", candidates[0].Description)
	}
	if candidates[1].ID != "NDI=" {
		t.Errorf("Expected NDI=, got %q", candidates[1].ID)
	}
}

func TestParseSearchUnreadable(t *testing.T) {
	_, err := parseSearch("<<not json>>")
	if !IsReason(err, ReasonParse) {
		t.Errorf("Expected parse failure, got %v", err)
	}
}

func TestSearchSource(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	fake.Fallback(func(url string) (browsertest.Site, bool) {
		if strings.HasPrefix(url, DefaultWeReadURL+"/web/search/global?keyword=") {
			return browsertest.Site{HTML: jsonPage(searchJSON)}, true
		}
		return browsertest.Site{}, false
	})

	candidates, err := e.SearchSource(context.Background(), "科技", testCredential())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("Expected 2 candidates, got %d", len(candidates))
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}

func TestSearchSourceEmptyKeyword(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)

	candidates, err := e.SearchSource(context.Background(), "  ", testCredential())
	if err != nil || len(candidates) != 0 {
		t.Errorf("Expected no candidates and no error, got %v %v", candidates, err)
	}
	if fake.Created() != 0 {
		t.Errorf("Expected no browsing context, got %d", fake.Created())
	}
}

func TestSearchSourceRejectedSession(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	fake.Fallback(func(url string) (browsertest.Site, bool) {
		return browsertest.Site{Location: DefaultWeReadURL + "/web/login", HTML: "<html><body>login</body></html>"}, true
	})

	_, err := e.SearchSource(context.Background(), "news", testCredential())
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Expected ErrAuthRejected, got %v", err)
	}
	if fake.Created() != 1 {
		t.Errorf("Expected no retry for a rejected session, got %d contexts", fake.Created())
	}
}

func TestSearchSourceEmptyResponse(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	fake.Fallback(func(url string) (browsertest.Site, bool) {
		return browsertest.Site{HTML: "<html><body></body></html>"}, true
	})

	_, err := e.SearchSource(context.Background(), "news", testCredential())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}
