package feed

import (
	"cmp"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
)

const jsonFeedVersion = "https://jsonfeed.org/version/1.1"

type JSONFeed struct {
	Version     string         `json:"version"`
	Title       string         `json:"title"`
	HomePageURL string         `json:"home_page_url,omitempty"`
	FeedURL     string         `json:"feed_url"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Language    string         `json:"language,omitempty"`
	Items       []JSONFeedItem `json:"items"`
}

type JSONFeedItem struct {
	ID            string           `json:"id"`
	URL           string           `json:"url,omitempty"`
	Title         string           `json:"title,omitempty"`
	ContentHTML   string           `json:"content_html,omitempty"`
	ContentText   string           `json:"content_text,omitempty"`
	Summary       string           `json:"summary,omitempty"`
	Image         string           `json:"image,omitempty"`
	DatePublished string           `json:"date_published,omitempty"`
	Authors       []JSONFeedAuthor `json:"authors,omitempty"`
}

type JSONFeedAuthor struct {
	Name string `json:"name"`
}

// JSONSource renders the feed of one account as JSON Feed.
func (g *Generator) JSONSource(src database.Source, articles []database.Article) JSONFeed {
	return g.renderJSON(sourceChannel(src), articles, nil)
}

// JSONAll renders the combined feed as JSON Feed.
func (g *Generator) JSONAll(articles []database.Article, sources map[string]string) JSONFeed {
	return g.renderJSON(allChannel(), articles, sources)
}

func (g *Generator) renderJSON(ch channel, articles []database.Article, sources map[string]string) JSONFeed {
	out := JSONFeed{
		Version:     jsonFeedVersion,
		Title:       cmp.Or(ch.title, "Untitled"),
		HomePageURL: ch.link,
		FeedURL:     baseURL() + ch.path + ".json",
		Description: ch.description,
		Icon:        ch.imageURL,
		Language:    "zh-CN",
		Items:       make([]JSONFeedItem, 0, len(articles)),
	}

	for _, a := range articles {
		item := JSONFeedItem{
			ID:            a.ID,
			URL:           a.URL,
			Title:         cmp.Or(a.Title, "Untitled"),
			ContentHTML:   a.Content,
			Summary:       a.Summary,
			Image:         imageURL(a.CoverURL),
			DatePublished: a.PublishedAt.In(time.Local).Format(time.RFC3339),
		}
		// Every item needs a body.
		if item.ContentHTML == "" {
			item.ContentText = cmp.Or(a.Summary, item.Title)
		}
		if author := cmp.Or(a.Author, sources[a.SourceID]); author != "" {
			item.Authors = []JSONFeedAuthor{{Name: author}}
		}
		out.Items = append(out.Items, item)
	}

	return out
}
