package extractor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/text/unicode/norm"
)

const (
	articleHost   = "mp.weixin.qq.com"
	bookIDPrefix  = "MP_WXS_"
	summaryLength = 200
)

var (
	chineseDate = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日?`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
)

func NormalizeTitle(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Summarize strips markup and collapses whitespace, keeping at most 200
// runes.
func Summarize(s string) string {
	if strings.Contains(s, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = norm.NFC.String(strings.Join(strings.Fields(s), " "))

	r := []rune(s)
	if len(r) > summaryLength {
		return string(r[:summaryLength])
	}
	return s
}

// IsArticleURL reports whether raw points at an official-account article.
func IsArticleURL(raw string) bool {
	u, err := parseURL(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Host, articleHost) && strings.HasPrefix(u.Path, "/s")
}

// CanonicalURL reduces an article link to the parameters that identify it.
func CanonicalURL(raw string) string {
	u, err := parseURL(raw)
	if err != nil || !strings.HasSuffix(u.Host, articleHost) {
		return strings.TrimSpace(raw)
	}

	if token := shortToken(u); token != "" {
		return "https://" + articleHost + "/s/" + token
	}

	q := u.Query()
	if q.Get("__biz") == "" || q.Get("mid") == "" {
		return strings.TrimSpace(raw)
	}

	keep := url.Values{}
	for _, key := range []string{"__biz", "mid", "idx", "sn"} {
		if v := q.Get(key); v != "" {
			keep.Set(key, v)
		}
	}
	// Encode sorts keys, which keeps __biz first.
	return "https://" + articleHost + "/s?" + keep.Encode()
}

// ContentID derives the stable id of an article from its link.
func ContentID(raw string) string {
	if u, err := parseURL(raw); err == nil && strings.HasSuffix(u.Host, articleHost) {
		q := u.Query()
		if biz, mid := q.Get("__biz"), q.Get("mid"); biz != "" && mid != "" {
			idx := q.Get("idx")
			if idx == "" {
				idx = "1"
			}
			return biz + ":" + mid + ":" + idx
		}
		if token := shortToken(u); token != "" {
			return token
		}
	}

	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// BizFromURL returns the __biz query parameter of raw, if any.
func BizFromURL(raw string) string {
	u, err := parseURL(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("__biz")
}

// BizFromBookID maps a reading-platform book id (MP_WXS_<n>) to the
// account's business id, which is base64(n).
func BizFromBookID(bookID string) (string, bool) {
	n, ok := strings.CutPrefix(bookID, bookIDPrefix)
	if !ok || !digitsOnly.MatchString(n) {
		return "", false
	}
	return base64.StdEncoding.EncodeToString([]byte(n)), true
}

func BookIDFromBiz(biz string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(biz)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(biz, "="))
	}
	if err != nil || !digitsOnly.Match(raw) {
		return "", fmt.Errorf("business id %q is not a base64 number", biz)
	}
	return bookIDPrefix + string(raw), nil
}

// ParsePublishTime accepts unix seconds or free-form date text, Chinese
// dates included. Text without a zone is read in the local zone.
func ParsePublishTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if digitsOnly.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}

	if m := chineseDate.FindStringSubmatch(s); m != nil {
		rest := strings.TrimSpace(s[len(m[0]):])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		s = fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
		if rest != "" {
			s += " " + rest
		}
	}

	t, err := dateparse.ParseIn(s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "&amp;", "&")
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

func shortToken(u *url.URL) string {
	token, ok := strings.CutPrefix(u.Path, "/s/")
	if !ok || token == "" || strings.Contains(token, "/") {
		return ""
	}
	return token
}
