// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lysyi3m/mp-comb/app/browser"
)

var ErrUnreachable = errors.New("net::ERR_NAME_NOT_RESOLVED")

// Site is what a navigation to a URL produces.
type Site struct {
	HTML     string
	Location string // final URL after redirects; defaults to the requested URL
	Eval     any    // value returned by every Evaluate call, nil makes Evaluate fail
	Cookies  []browser.Cookie
	Hang     bool // navigation blocks until the context is done
	Err      error
	// FailTimes makes the first n navigations fail with a network error.
	FailTimes int
}

type Engine struct {
	mu          sync.Mutex
	routes      map[string]Site
	fallback    func(url string) (Site, bool)
	navigations map[string]int
	pages       []*Page
	open        int
	created     int
	NewErr      error
}

var _ browser.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{
		routes:      make(map[string]Site),
		navigations: make(map[string]int),
	}
}

// Route serves site for an exact URL.
func (e *Engine) Route(url string, site Site) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes[url] = site
}

// Fallback serves URLs without an exact route.
func (e *Engine) Fallback(fn func(url string) (Site, bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = fn
}

func (e *Engine) NewContext(ctx context.Context) (browser.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NewErr != nil {
		return nil, e.NewErr
	}
	p := &Page{engine: e, jar: map[string]browser.Cookie{}}
	e.pages = append(e.pages, p)
	e.open++
	e.created++
	return p, nil
}

func (e *Engine) Close() error {
	return nil
}

// Open is the number of contexts not yet closed.
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

func (e *Engine) Navigations(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigations[url]
}

// LastPage returns the most recently opened context.
func (e *Engine) LastPage() *Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pages) == 0 {
		return nil
	}
	return e.pages[len(e.pages)-1]
}

func (e *Engine) resolve(url string) (Site, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.navigations[url]++
	n := e.navigations[url]

	if site, ok := e.routes[url]; ok {
		return site, n, true
	}
	if e.fallback != nil {
		if site, ok := e.fallback(url); ok {
			return site, n, true
		}
	}
	return Site{}, n, false
}

type Page struct {
	engine *Engine

	mu       sync.Mutex
	location string
	html     string
	eval     any
	jar      map[string]browser.Cookie
	closed   bool
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}

	site, n, ok := p.engine.resolve(url)
	if !ok {
		return fmt.Errorf("page load error %w", ErrUnreachable)
	}
	if site.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= site.FailTimes {
		return errors.New("page load error net::ERR_CONNECTION_RESET")
	}
	if site.Err != nil {
		return site.Err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = url
	if site.Location != "" {
		p.location = site.Location
	}
	p.html = site.HTML
	p.eval = site.Eval
	for _, c := range site.Cookies {
		p.jar[c.Name] = c
	}
	return nil
}

// SetState replaces what the page currently shows, e.g. after a QR scan.
func (p *Page) SetState(location, html string, cookies ...browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = location
	p.html = html
	for _, c := range cookies {
		p.jar[c.Name] = c
	}
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Location(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	value := p.eval
	p.mu.Unlock()

	if value == nil {
		return errors.New("evaluation failed: ReferenceError")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := p.check(ctx); err != nil {
		return false, err
	}
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, err
	}
	return doc.Find(selector).Length() > 0, nil
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		found, err := p.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := p.WaitVisible(ctx, selector); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake " + selector), nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]browser.Cookie, 0, len(p.jar))
	for _, c := range p.jar {
		out = append(out, c)
	}
	return out, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		p.jar[c.Name] = c
	}
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.engine.mu.Lock()
	p.engine.open--
	p.engine.mu.Unlock()
	return nil
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("browsing context closed")
	}
	return nil
}
