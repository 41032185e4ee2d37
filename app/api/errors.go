package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/auth"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/ingest"
	"github.com/lysyi3m/mp-comb/app/proxy"
	"github.com/lysyi3m/mp-comb/app/settings"
)

// classifyError maps a domain error to its HTTP status and error code.
func classifyError(err error) (int, string) {
	var validation *settings.ValidationError
	var extraction *extractor.ExtractionError

	switch {
	case errors.Is(err, ingest.ErrFeedNotFound):
		return http.StatusNotFound, "feed_not_found"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, ingest.ErrSourceRefreshConflict):
		return http.StatusConflict, "refresh_conflict"
	case errors.Is(err, auth.ErrLoginInProgress):
		return http.StatusConflict, "login_in_progress"
	case errors.Is(err, accounts.ErrNoAccountAvailable):
		return http.StatusServiceUnavailable, "no_account_available"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_setting"
	case errors.Is(err, ingest.ErrInvalidInput), errors.Is(err, proxy.ErrInvalidURL):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, proxy.ErrHostNotAllowed):
		return http.StatusForbidden, "host_not_allowed"
	case errors.Is(err, proxy.ErrUpstream):
		return http.StatusBadGateway, "upstream_failed"
	case errors.As(err, &extraction):
		return http.StatusBadGateway, "extraction_" + string(extraction.Reason)
	case errors.Is(err, extractor.ErrAuthRejected):
		return http.StatusBadGateway, "auth_rejected"
	case errors.Is(err, extractor.ErrRateLimited):
		return http.StatusBadGateway, "rate_limited"
	case errors.Is(err, auth.ErrLoginInitFailed):
		return http.StatusBadGateway, "login_init_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		slog.Debug("Request rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
