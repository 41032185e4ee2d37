package feed

import (
	"cmp"
	"encoding/xml"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
)

type opmlDocument struct {
	XMLName xml.Name    `xml:"opml"`
	Version string      `xml:"version,attr"`
	Head    opmlHead    `xml:"head"`
	Outline []opmlEntry `xml:"body>outline"`
}

type opmlHead struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated"`
}

type opmlEntry struct {
	Type    string `xml:"type,attr"`
	Text    string `xml:"text,attr"`
	Title   string `xml:"title,attr"`
	XMLURL  string `xml:"xmlUrl,attr"`
	HTMLURL string `xml:"htmlUrl,attr,omitempty"`
}

// OPML lists the RSS feed of every given source as an OPML 2.0 document.
func (g *Generator) OPML(sources []database.Source) ([]byte, error) {
	doc := opmlDocument{
		Version: "2.0",
		Head: opmlHead{
			Title:       "MP Comb subscriptions",
			DateCreated: time.Now().In(time.Local).Format(time.RFC1123Z),
		},
		Outline: make([]opmlEntry, 0, len(sources)),
	}

	for _, src := range sources {
		ch := sourceChannel(src)
		ch.title = cmp.Or(ch.title, src.ID)
		doc.Outline = append(doc.Outline, opmlEntry{
			Type:    "rss",
			Text:    ch.title,
			Title:   ch.title,
			XMLURL:  baseURL() + ch.path + ".xml",
			HTMLURL: ch.link,
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
