package extractor

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lysyi3m/mp-comb/app/browser"
)

// ArticleMeta is what one article page reveals about its account.
type ArticleMeta struct {
	SourceID    string     `json:"source_id"`
	SourceName  string     `json:"source_name"`
	Description string     `json:"description"`
	CoverURL    string     `json:"cover_url"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type windowVars struct {
	Biz      string `json:"biz"`
	Nickname string `json:"nickname"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Cover    string `json:"cover"`
	HeadImg  string `json:"headImg"`
	Ct       string `json:"ct"`
}

const articleVarsJS = `(() => ({
	biz: window.biz || "",
	nickname: window.nickname || "",
	title: window.msg_title || "",
	desc: window.msg_desc || "",
	cover: window.msg_cdn_url || "",
	headImg: window.round_head_img || window.hd_head_img || "",
	ct: String(window.ct || "")
}))()`

var bizPatterns = []*regexp.Regexp{
	regexp.MustCompile(`var\s+biz\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`__biz=([^&"'\s]+)`),
}

// ParseArticleLink opens an article anonymously and extracts its account.
func (e *Engine) ParseArticleLink(ctx context.Context, rawURL string) (*ArticleMeta, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !IsArticleURL(rawURL) {
		return nil, &ExtractionError{Reason: ReasonParse, URL: rawURL, Err: errNotArticle}
	}

	var meta *ArticleMeta
	err := e.withPage(ctx, rawURL, nil, func(ctx context.Context, page browser.Page) error {
		var vars windowVars
		if err := page.Evaluate(ctx, articleVarsJS, &vars); err != nil {
			slog.Debug("Article page variables unavailable", "url", rawURL, "error", err)
		}

		html, err := page.HTML(ctx)
		if err != nil {
			return err
		}
		location, err := page.Location(ctx)
		if err != nil {
			location = rawURL
		}

		meta, err = parseArticle(rawURL, location, html, vars)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

var errNotArticle = errors.New("not an article link")

func parseArticle(requested, location, html string, vars windowVars) (*ArticleMeta, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, parseError("unreadable markup: %v", err)
	}

	biz := firstNonEmpty(vars.Biz, BizFromURL(location), BizFromURL(requested), bizFromMarkup(html))
	if biz == "" {
		return nil, parseError("no business id on page")
	}

	meta := &ArticleMeta{
		SourceID: biz,
		SourceName: NormalizeTitle(firstNonEmpty(
			vars.Nickname,
			doc.Find("#js_name").First().Text(),
			doc.Find(".profile_nickname").First().Text(),
			metaContent(doc, "og:article:author"),
		)),
		Description: Summarize(firstNonEmpty(
			doc.Find(".profile_meta_value").First().Text(),
			vars.Desc,
			doc.Find(".rich_media_meta_text").First().Text(),
			metaContent(doc, "og:description"),
		)),
		CoverURL: firstNonEmpty(
			vars.HeadImg,
			attr(doc.Find(".profile_avatar img, #js_profile_qrcode img").First(), "src"),
		),
		Title: NormalizeTitle(firstNonEmpty(
			vars.Title,
			doc.Find("#activity-name").First().Text(),
			doc.Find(".rich_media_title").First().Text(),
			metaContent(doc, "og:title"),
		)),
		URL: CanonicalURL(firstNonEmpty(metaContent(doc, "og:url"), location, requested)),
	}

	if t, ok := ParsePublishTime(firstNonEmpty(vars.Ct, doc.Find("#publish_time").First().Text())); ok {
		meta.PublishedAt = &t
	}

	return meta, nil
}

func bizFromMarkup(html string) string {
	for _, re := range bizPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			if v, err := url.QueryUnescape(m[1]); err == nil {
				return v
			}
			return m[1]
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"], meta[name="` + property + `"]`).First()
	return attr(sel, "content")
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
