package extractor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/browser/browsertest"
)

func TestExtractContent(t *testing.T) {
	html := `<html><body>
<div id="js_content" style="visibility: hidden;">
<p>Hello reader</p>
<img data-src="https://img.example/1.png">
<script>track()</script>
</div></body></html>`

	content, err := extractContent(html, "https://mp.weixin.qq.com/s/abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(content, "Hello reader") {
		t.Errorf("Expected body text, got %q", content)
	}
	if !strings.Contains(content, `src="https://img.example/1.png"`) {
		t.Errorf("Expected lazy images to be resolved, got %q", content)
	}
	if strings.Contains(content, "data-src") || strings.Contains(content, "track()") {
		t.Errorf("Expected scripts and lazy attributes removed, got %q", content)
	}
}

func TestExtractContentReadabilityFallback(t *testing.T) {
	paragraph := strings.Repeat("The quick brown fox jumps over the lazy dog, again and again. ", 8)
	html := `<html><head><title>Story</title></head><body>
<div class="nav"><a href="/">Home</a></div>
<article><h1>Story</h1><p>` + paragraph + `</p><p>` + paragraph + `</p><p>Closing line marker.</p></article>
</body></html>`

	content, err := extractContent(html, "https://example.com/story")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(content, "quick brown fox") {
		t.Errorf("Expected readability content, got %q", content)
	}
}

func TestFetchContent(t *testing.T) {
	e, fake := newTestEngine(t, time.Second)
	link := "https://mp.weixin.qq.com/s/abc"
	fake.Route(link, browsertest.Site{HTML: `<html><body><div id="js_content"><p>Body text</p></div></body></html>`})

	content, err := e.FetchContent(context.Background(), link)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(content, "Body text") {
		t.Errorf("Expected body text, got %q", content)
	}
	if fake.Open() != 0 {
		t.Errorf("Expected every context closed, got %d open", fake.Open())
	}
}
