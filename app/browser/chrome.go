package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

type ChromeOptions struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	// IdleWait caps how long Navigate waits for network idle after load.
	IdleWait time.Duration
}

// Chrome drives a single browser process; each context it hands out is a
// separate browser context (own cookie jar) in its own tab.
type Chrome struct {
	opts          ChromeOptions
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ Engine = (*Chrome)(nil)

// NewChrome launches the browser. Failure here is fatal for the service.
func NewChrome(opts ChromeOptions) (*Chrome, error) {
	if opts.IdleWait <= 0 {
		opts.IdleWait = 3 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Chrome{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func (c *Chrome) NewContext(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithNewBrowserContext())

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browsing context: %w", err)
	}

	return &chromePage{ctx: tabCtx, cancel: cancel, idleWait: c.opts.IdleWait}, nil
}

func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	return err
}

type chromePage struct {
	ctx      context.Context
	cancel   context.CancelFunc
	idleWait time.Duration
}

// run executes actions on the tab while honouring the caller's deadline and
// cancellation. Cancelling the derived context aborts the actions without
// closing the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var deadlineCancel context.CancelFunc
		runCtx, deadlineCancel = context.WithDeadline(runCtx, deadline)
		defer deadlineCancel()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	idle := make(chan struct{}, 1)

	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	if err := p.run(ctx, page.SetLifecycleEventsEnabled(true), chromedp.Navigate(url)); err != nil {
		return err
	}

	timer := time.NewTimer(p.idleWait)
	defer timer.Stop()

	select {
	case <-idle:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	err = p.run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", quoted), &found))
	return found, err
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery))
	return buf, err
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	return out, err
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return p.run(ctx, network.SetCookies(params))
}

// Close closes the tab and disposes its browser context.
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
