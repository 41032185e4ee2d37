package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/lysyi3m/mp-comb/app/browser"
)

// FetchContent returns the cleaned body markup of an article.
func (e *Engine) FetchContent(ctx context.Context, articleURL string) (string, error) {
	var content string
	err := e.withPage(ctx, articleURL, nil, func(ctx context.Context, page browser.Page) error {
		html, err := page.HTML(ctx)
		if err != nil {
			return err
		}
		content, err = extractContent(html, articleURL)
		return err
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func extractContent(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", parseError("unreadable markup: %v", err)
	}

	body := doc.Find("#js_content").First()
	if body.Length() > 0 {
		body.Find("script, style").Remove()
		body.Find("[data-src]").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("data-src"); ok && src != "" {
				s.SetAttr("src", src)
				s.RemoveAttr("data-src")
			}
		})

		out, err := body.Html()
		if err == nil && (strings.TrimSpace(body.Text()) != "" || body.Find("img").Length() > 0) {
			return strings.TrimSpace(out), nil
		}
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", parseError("invalid article url: %v", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", parseError("readability failed: %v", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", parseError("no article content")
	}
	return article.Content, nil
}
