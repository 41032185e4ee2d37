package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/mp-comb/app/cfg"
	"github.com/lysyi3m/mp-comb/app/database"
)

const profileURL = "https://mp.weixin.qq.com/mp/profile_ext?action=home&__biz="

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

type channel struct {
	title       string
	link        string
	description string
	imageURL    string
	// path is the feed route without its format extension.
	path string
}

// FeedPath is the route of a source's feed without its extension.
func FeedPath(sourceID string) string {
	return "/rss/" + url.PathEscape(sourceID)
}

func sourceChannel(src database.Source) channel {
	return channel{
		title:       src.Name,
		link:        profileURL + url.QueryEscape(src.ID),
		description: cmp.Or(src.Description, fmt.Sprintf("Articles from %s", src.Name)),
		imageURL:    imageURL(src.CoverURL),
		path:        FeedPath(src.ID),
	}
}

func allChannel() channel {
	return channel{
		title:       "All followed accounts",
		link:        baseURL(),
		description: "Latest articles from every followed account",
		path:        "/rss/all",
	}
}

// Source renders the feed of one account.
func (g *Generator) Source(src database.Source, articles []database.Article) (string, error) {
	return g.render(sourceChannel(src), articles, nil)
}

// All renders the combined feed. sources maps source id to display name
// and fills in authors the platform did not report.
func (g *Generator) All(articles []database.Article, sources map[string]string) (string, error) {
	return g.render(allChannel(), articles, sources)
}

func (g *Generator) render(ch channel, articles []database.Article, sources map[string]string) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(ch.title, "Untitled"), 4)
	g.writeElement(&buf, "link", ch.link, 4)
	g.writeElement(&buf, "description", ch.description, 4)

	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(baseURL()+ch.path+".xml")))

	lastBuildDate := time.Now().In(time.Local)
	if len(articles) > 0 {
		lastBuildDate = articles[0].PublishedAt.In(time.Local)
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("MP-Comb/%s", cfg.Get().Version), 4)
	g.writeElement(&buf, "language", "zh-cn", 4)

	if ch.imageURL != "" {
		buf.WriteString("    <image>\n")
		g.writeElement(&buf, "url", ch.imageURL, 6)
		g.writeElement(&buf, "title", cmp.Or(ch.title, "Untitled"), 6)
		g.writeElement(&buf, "link", ch.link, 6)
		buf.WriteString("    </image>\n")
	}

	for _, article := range articles {
		g.writeItem(&buf, article, sources[article.SourceID])
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, article database.Article, sourceName string) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(article.ID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", cmp.Or(article.Title, "Untitled"), 6)
	g.writeElement(buf, "link", article.URL, 6)
	g.writeElement(buf, "description", cmp.Or(article.Summary, "No description available"), 6)

	if article.Content != "" {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(strings.ReplaceAll(article.Content, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}

	g.writeElement(buf, "author", cmp.Or(article.Author, sourceName), 6)
	g.writeElement(buf, "pubDate", article.PublishedAt.In(time.Local).Format(time.RFC1123Z), 6)

	if article.CoverURL != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"0\" type=\"image/jpeg\" />\n",
			html.EscapeString(imageURL(article.CoverURL))))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

// ImageProxyPath serves remote images through this service.
const ImageProxyPath = "/proxy/img"

func imageURL(raw string) string {
	if raw == "" || !cfg.Get().ProxyImages {
		return raw
	}
	return baseURL() + ImageProxyPath + "?url=" + url.QueryEscape(raw)
}

func baseURL() string {
	c := cfg.Get()
	if c.BaseUrl != "" {
		return strings.TrimRight(c.BaseUrl, "/")
	}
	return fmt.Sprintf("http://localhost:%s", c.Port)
}
