package extractor

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/lysyi3m/mp-comb/app/browser"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/samber/lo"
)

// Candidate is a search hit that can be added as a source.
type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CoverURL    string `json:"cover_url"`
}

type searchResponse struct {
	Books []struct {
		BookInfo struct {
			BookID string `json:"bookId"`
			Title  string `json:"title"`
			Author string `json:"author"`
			Cover  string `json:"cover"`
			Intro  string `json:"intro"`
		} `json:"bookInfo"`
	} `json:"books"`
}

// SearchSource looks accounts up by keyword with cred's session.
func (e *Engine) SearchSource(ctx context.Context, keyword string, cred database.Credential) ([]Candidate, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []Candidate{}, nil
	}

	searchURL := e.config.WeReadURL + "/web/search/global?keyword=" + url.QueryEscape(keyword)

	var candidates []Candidate
	err := e.withPage(ctx, searchURL, sessionCookies(cred), func(ctx context.Context, page browser.Page) error {
		_, body, err := readBody(ctx, page)
		if err != nil {
			return err
		}
		candidates, err = parseSearch(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func parseSearch(body string) ([]Candidate, error) {
	if err := classify(body); err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, parseError("unreadable search response: %v", err)
	}

	candidates := make([]Candidate, 0, len(resp.Books))
	for _, b := range resp.Books {
		biz, ok := BizFromBookID(b.BookInfo.BookID)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:          biz,
			Name:        NormalizeTitle(b.BookInfo.Title),
			Description: Summarize(b.BookInfo.Intro),
			CoverURL:    strings.TrimSpace(b.BookInfo.Cover),
		})
	}

	return lo.UniqBy(candidates, func(c Candidate) string { return c.ID }), nil
}
