// Package proxy fetches article images on behalf of feed readers. The
// platform's image CDN refuses requests without its own Referer.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidURL     = errors.New("invalid image url")
	ErrHostNotAllowed = errors.New("image host not allowed")
	ErrUpstream       = errors.New("image upstream failed")
)

const (
	DefaultReferer = "https://mp.weixin.qq.com/"
	maxRedirects   = 3
)

// DefaultHosts are the image CDNs articles link to. A host matches itself
// and any subdomain.
var DefaultHosts = []string{"qpic.cn", "qlogo.cn"}

type Config struct {
	UserAgent string
	Referer   string
	Timeout   time.Duration
	Hosts     []string
}

type Image struct {
	ContentType string
	// Length is -1 when the upstream did not report it.
	Length int64
	Body   io.ReadCloser
}

type Proxy struct {
	client *http.Client
	config Config
}

func New(config Config) *Proxy {
	if config.Referer == "" {
		config.Referer = DefaultReferer
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if len(config.Hosts) == 0 {
		config.Hosts = DefaultHosts
	}

	p := &Proxy{config: config}
	p.client = &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return p.check(req.URL)
		},
	}
	return p
}

// Fetch opens the image at raw. The caller must close Image.Body.
func (p *Proxy) Fetch(ctx context.Context, raw string) (*Image, error) {
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, target.Scheme)
	}
	if err := p.check(target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Referer", p.config.Referer)
	req.Header.Set("Accept", "image/*")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrUpstream, contentType)
	}

	return &Image{
		ContentType: contentType,
		Length:      resp.ContentLength,
		Body:        resp.Body,
	}, nil
}

func (p *Proxy) check(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	for _, allowed := range p.config.Hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}
