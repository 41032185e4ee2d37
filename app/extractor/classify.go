package extractor

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	ErrCode    int    `json:"errcode"`
	ErrCodeAlt int    `json:"errCode"`
	ErrMsg     string `json:"errmsg"`
}

// classify maps a platform response body to ErrAuthRejected or
// ErrRateLimited. It returns nil for bodies that look like data.
func classify(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%w: empty response", ErrRateLimited)
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err == nil {
		switch code := cmp.Or(env.ErrCode, env.ErrCodeAlt); code {
		case 0:
		case -2010, -2012:
			return fmt.Errorf("%w: errcode %d", ErrAuthRejected, code)
		case -2013:
			return fmt.Errorf("%w: errcode %d", ErrRateLimited, code)
		default:
			if isThrottleMessage(env.ErrMsg) {
				return fmt.Errorf("%w: %s", ErrRateLimited, env.ErrMsg)
			}
			return parseError("platform error %d: %s", code, env.ErrMsg)
		}
		return nil
	}

	if isThrottleMessage(body) {
		return fmt.Errorf("%w: %s", ErrRateLimited, truncate(body, 80))
	}
	return nil
}

func isThrottleMessage(s string) bool {
	return strings.Contains(s, "频繁") || strings.Contains(strings.ToLower(s), "too frequent")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
