package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/cfg"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/feed"
	"github.com/lysyi3m/mp-comb/app/tasks"
	"github.com/samber/lo"
)

const (
	modeLink         = "link"
	modeSearchSelect = "search-select"
	targetAll        = "all"
	allFeedName      = "all"
	defaultPageSize  = 20
	opmlFileName     = "mp-comb.opml"
	imageCacheMaxAge = "public, max-age=86400"
)

func NewHandler(services Services) *Handler {
	return &Handler{
		logins:    services.Logins,
		accounts:  services.Accounts,
		sources:   services.Sources,
		articles:  services.Articles,
		settings:  services.Settings,
		scheduler: services.Scheduler,
		images:    services.Images,
		generator: feed.NewGenerator(),
		now:       time.Now,
	}
}

func (h *Handler) StartLogin(c *gin.Context) {
	session, err := h.logins.StartLogin(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       session.Token,
		"status":      session.Status,
		"qr_code":     session.QRCode,
		"created_at":  session.CreatedAt,
		"expires_at":  session.ExpiresAt(),
		"ttl_seconds": int(session.TTL.Seconds()),
	})
}

func (h *Handler) LoginStatus(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token parameter", "code": "invalid_input"})
		return
	}

	status, err := h.logins.PollLogin(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) ListAccounts(c *gin.Context) {
	summaries, err := h.accounts.Summaries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": summaries,
		"total":    len(summaries),
	})
}

func (h *Handler) AddFeed(c *gin.Context) {
	var req addFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error(), "code": "invalid_input"})
		return
	}

	ctx := c.Request.Context()

	var (
		src     *database.Source
		created bool
		err     error
	)
	switch req.Mode {
	case modeLink:
		src, created, err = h.sources.AddByLink(ctx, req.Value)
	case modeSearchSelect:
		src, created, err = h.sources.AddCandidate(ctx, extractor.Candidate{
			ID:          req.Value,
			Name:        req.Name,
			Description: req.Description,
			CoverURL:    req.Cover,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Unknown mode %q, expected %s or %s", req.Mode, modeLink, modeSearchSelect),
			"code":  "invalid_input",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"created": created,
		"feed":    h.view(*src),
	})
}

func (h *Handler) SearchFeeds(c *gin.Context) {
	candidates, err := h.sources.Search(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"candidates": candidates,
		"total":      len(candidates),
	})
}

func (h *Handler) RefreshFeeds(c *gin.Context) {
	target := strings.TrimSpace(c.Query("target"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing target parameter", "code": "invalid_input"})
		return
	}

	ctx := c.Request.Context()

	var (
		ack *tasks.Ack
		err error
	)
	if target == targetAll {
		ack, err = h.scheduler.TriggerAll(ctx)
	} else {
		ack, err = h.scheduler.TriggerSource(ctx, target)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ack)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context(), database.SourceStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}

	views := lo.Map(sources, func(s database.Source, _ int) sourceView {
		return h.view(s)
	})

	c.JSON(http.StatusOK, gin.H{
		"feeds": views,
		"total": len(views),
	})
}

func (h *Handler) SetVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error(), "code": "invalid_input"})
		return
	}

	id := c.Param("id")
	if err := h.sources.SetVisibility(c.Request.Context(), id, req.Status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.sources.MarkRead(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "unread_count": 0})
}

// GetRSS serves /rss/<id>.xml for one source and /rss/all.xml for every
// visible source combined. The same paths ending in .json return JSON Feed.
func (h *Handler) GetRSS(c *gin.Context) {
	file := c.Param("file")
	ext := path.Ext(file)
	if ext != ".xml" && ext != ".json" {
		c.Status(http.StatusNotFound)
		return
	}

	name, err := url.PathUnescape(strings.TrimSuffix(file, ext))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	src, articles, names, err := h.feedArticles(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Feed-Items", strconv.Itoa(len(articles)))
	if src != nil && src.LatestArticleAt != nil {
		c.Header("X-Last-Updated", src.LatestArticleAt.Format(time.RFC3339))
	}

	if ext == ".json" {
		c.Header("Content-Type", "application/feed+json; charset=utf-8")
		if src == nil {
			c.JSON(http.StatusOK, h.generator.JSONAll(articles, names))
		} else {
			c.JSON(http.StatusOK, h.generator.JSONSource(*src, articles))
		}
		return
	}

	var rss string
	if src == nil {
		rss, err = h.generator.All(articles, names)
	} else {
		rss, err = h.generator.Source(*src, articles)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, rss)
}

// feedArticles loads what a feed shows. For the combined feed src is nil
// and names maps every visible source id to its name.
func (h *Handler) feedArticles(ctx context.Context, name string) (*database.Source, []database.Article, map[string]string, error) {
	current, err := h.settings.Get(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	if name != allFeedName {
		src, err := h.sources.GetSource(ctx, name)
		if err != nil {
			return nil, nil, nil, err
		}
		articles, err := h.articles.ListArticles(ctx, src.ID, current.MaxItems)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, articles, nil, nil
	}

	sources, err := h.sources.ListSources(ctx, database.SourceNormal)
	if err != nil {
		return nil, nil, nil, err
	}
	names := lo.SliceToMap(sources, func(s database.Source) (string, string) {
		return s.ID, s.Name
	})

	recent, err := h.articles.ListRecentArticles(ctx, current.MaxItems)
	if err != nil {
		return nil, nil, nil, err
	}
	articles := lo.Filter(recent, func(a database.Article, _ int) bool {
		_, visible := names[a.SourceID]
		return visible
	})
	return nil, articles, names, nil
}

// ExportOPML lists the feed of every visible source for import into a
// feed reader.
func (h *Handler) ExportOPML(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context(), database.SourceNormal)
	if err != nil {
		respondError(c, err)
		return
	}

	doc, err := h.generator.OPML(sources)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", opmlFileName))
	c.Data(http.StatusOK, "text/x-opml; charset=utf-8", doc)
}

// QueryArticles pages through stored articles, newest first. before and
// after bound the publish time and accept any common date layout.
func (h *Handler) QueryArticles(c *gin.Context) {
	var req articleQueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query", "details": err.Error(), "code": "invalid_input"})
		return
	}

	q := database.ArticleQuery{SourceID: strings.TrimSpace(req.Source)}
	for _, bound := range []struct {
		name  string
		value string
		dst   **time.Time
	}{
		{"before", req.Before, &q.Before},
		{"after", req.After, &q.After},
	} {
		if bound.value == "" {
			continue
		}
		t, err := dateparse.ParseIn(bound.value, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Cannot read %s=%q as a date", bound.name, bound.value),
				"code":  "invalid_input",
			})
			return
		}
		*bound.dst = &t
	}

	page := max(req.Page, 1)
	size := req.Size
	if size == 0 {
		size = defaultPageSize
	}
	q.Limit = size
	q.Offset = (page - 1) * size

	ctx := c.Request.Context()
	if q.SourceID != "" {
		if _, err := h.sources.GetSource(ctx, q.SourceID); err != nil {
			respondError(c, err)
			return
		}
	}

	articles, total, err := h.articles.QueryArticles(ctx, q)
	if err != nil {
		respondError(c, err)
		return
	}

	sources, err := h.sources.ListSources(ctx, "")
	if err != nil {
		respondError(c, err)
		return
	}
	names := lo.SliceToMap(sources, func(s database.Source) (string, string) {
		return s.ID, s.Name
	})

	withContent := req.Content == nil || *req.Content
	views := lo.Map(articles, func(a database.Article, _ int) articleView {
		v := articleView{
			ID:            a.ID,
			SourceID:      a.SourceID,
			SourceName:    names[a.SourceID],
			Title:         a.Title,
			Summary:       a.Summary,
			URL:           a.URL,
			CoverURL:      a.CoverURL,
			Author:        a.Author,
			PublishedAt:   a.PublishedAt,
			ContentStatus: a.ContentStatus,
		}
		if withContent {
			v.Content = a.Content
		}
		return v
	})

	c.JSON(http.StatusOK, gin.H{
		"articles": views,
		"total":    total,
		"page":     page,
		"size":     size,
		"has_more": q.Offset+len(views) < total,
	})
}

// ProxyImage streams an image from the platform's CDN with the Referer
// it expects.
func (h *Handler) ProxyImage(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url parameter", "code": "invalid_input"})
		return
	}

	img, err := h.images.Fetch(c.Request.Context(), raw)
	if err != nil {
		respondError(c, err)
		return
	}
	defer img.Body.Close()

	c.DataFromReader(http.StatusOK, img.Length, img.ContentType, img.Body, map[string]string{
		"Cache-Control": imageCacheMaxAge,
	})
}

func (h *Handler) GetSettings(c *gin.Context) {
	current, err := h.settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": current.Strings()})
}

// UpdateSettings accepts a JSON object of key/value pairs. Values may be
// strings, numbers or booleans; nothing is stored unless all of them
// validate.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error(), "code": "invalid_input"})
		return
	}

	values := make(map[string]string, len(body))
	for key, raw := range body {
		switch v := raw.(type) {
		case string:
			values[key] = v
		case float64, bool:
			values[key] = fmt.Sprint(v)
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Setting %s must be a string, number or boolean", key),
				"code":  "invalid_setting",
			})
			return
		}
	}

	ctx := c.Request.Context()
	if err := h.settings.SetMany(ctx, values); err != nil {
		respondError(c, err)
		return
	}

	current, err := h.settings.Get(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": current.Strings()})
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	health := gin.H{
		"status":    "ok",
		"timestamp": h.now().In(time.Local).Format(time.RFC3339),
	}

	if sources, err := h.sources.ListSources(ctx, ""); err == nil {
		health["feeds"] = len(sources)
	}

	if summaries, err := h.accounts.Summaries(ctx); err == nil {
		active := lo.CountBy(summaries, func(s accounts.Summary) bool {
			return s.Status == database.CredentialActive
		})
		health["accounts"] = gin.H{"total": len(summaries), "active": active}
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) view(s database.Source) sourceView {
	state := h.scheduler.SourceState(s.ID)
	return sourceView{
		ID:               s.ID,
		Name:             s.Name,
		Description:      s.Description,
		CoverURL:         s.CoverURL,
		Status:           s.Status,
		UnreadCount:      s.UnreadCount,
		LatestArticleAt:  s.LatestArticleAt,
		LastError:        s.LastError,
		LastErrorAt:      s.LastErrorAt,
		RSSPath:          feed.FeedPath(s.ID) + ".xml",
		Refreshing:       h.sources.Refreshing(s.ID),
		Queued:           state.Queued,
		Failures:         state.Failures,
		SuppressedCycles: state.SuppressedCycles,
		CreatedAt:        s.CreatedAt,
	}
}

func serviceInfo(apiKeyRequired bool) gin.H {
	return gin.H{
		"service":     "MP Comb",
		"version":     cfg.GetVersion(),
		"description": "Official-account articles republished as RSS",
		"endpoints": gin.H{
			"rss":      "/rss/<id>.xml",
			"rss_all":  "/rss/" + allFeedName + ".xml",
			"json":     "/rss/<id>.json",
			"json_all": "/rss/" + allFeedName + ".json",
			"image":    feed.ImageProxyPath + "?url=<image url>",
			"health":   "/health",
			"login":    "/auth/login/start (POST)",
			"status":   "/auth/login/status?token=<token>",
			"accounts": "/auth/accounts",
			"feeds":    "/feeds",
			"add":      "/feeds/add (POST)",
			"search":   "/feeds/search?keyword=<keyword>",
			"refresh":  "/feeds/refresh?target=<id|all> (POST)",
			"opml":     "/feeds/opml",
			"articles": "/articles?source=<id>&before=<date>&after=<date>&page=<n>&size=<n>",
			"settings": "/settings (GET, PUT)",
		},
		"api_status": gin.H{
			"auth_required": apiKeyRequired,
			"header":        "X-API-Key",
		},
	}
}
