package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/mp-comb/app/feed"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		MaxAge:          12 * time.Hour,
	}))

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	// Public
	r.GET("/rss/:file", handler.GetRSS)
	r.GET(feed.ImageProxyPath, handler.ProxyImage)
	r.GET("/health", handler.GetHealth)
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, serviceInfo(apiAccessKey != ""))
	})
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Management
	api := r.Group("/")
	if apiAccessKey != "" {
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("Management endpoints require an API key")
	} else {
		slog.Warn("Management endpoints are open (API_ACCESS_KEY not set)")
	}

	login := api.Group("/auth")
	{
		login.POST("/login/start", handler.StartLogin)
		login.GET("/login/status", handler.LoginStatus)
		login.GET("/accounts", handler.ListAccounts)
	}

	feeds := api.Group("/feeds")
	{
		feeds.GET("", handler.ListFeeds)
		feeds.POST("/add", handler.AddFeed)
		feeds.GET("/search", handler.SearchFeeds)
		feeds.GET("/opml", handler.ExportOPML)
		feeds.POST("/refresh", handler.RefreshFeeds)
		feeds.POST("/:id/visibility", handler.SetVisibility)
		feeds.POST("/:id/read", handler.MarkRead)
	}

	api.GET("/articles", handler.QueryArticles)

	api.GET("/settings", handler.GetSettings)
	api.PUT("/settings", handler.UpdateSettings)
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiAccessKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
