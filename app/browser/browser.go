package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrLoginSlotBusy = errors.New("login browser context is busy")

// Cookie mirrors database.Cookie field for field so the two convert directly.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Page is one isolated browsing context. Every method that touches the
// browser honours ctx.
type Page interface {
	// Navigate loads url and waits for the network to settle (bounded).
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, out any) error
	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string) error
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

type Engine interface {
	NewContext(ctx context.Context) (Page, error)
	Close() error
}

// Pool bounds the number of concurrently open extraction contexts and keeps
// one extra designated context for interactive login.
type Pool struct {
	engine Engine
	slots  chan struct{}
	login  chan struct{}
	inUse  atomic.Int32
}

func NewPool(engine Engine, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		engine: engine,
		slots:  make(chan struct{}, size),
		login:  make(chan struct{}, 1),
	}
}

func (p *Pool) Size() int {
	return cap(p.slots)
}

// InUse counts open contexts, the login context included.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Acquire waits for a free extraction slot and opens a fresh context in it.
// Closing the returned page frees the slot.
func (p *Pool) Acquire(ctx context.Context) (Page, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.open(ctx, p.slots)
}

// AcquireLogin takes the designated login context without waiting.
func (p *Pool) AcquireLogin(ctx context.Context) (Page, error) {
	select {
	case p.login <- struct{}{}:
	default:
		return nil, ErrLoginSlotBusy
	}
	return p.open(ctx, p.login)
}

func (p *Pool) open(ctx context.Context, slot chan struct{}) (Page, error) {
	page, err := p.engine.NewContext(ctx)
	if err != nil {
		<-slot
		return nil, err
	}

	p.inUse.Add(1)
	return &pooledPage{
		Page: page,
		release: func() {
			p.inUse.Add(-1)
			<-slot
		},
	}, nil
}

func (p *Pool) Close() error {
	return p.engine.Close()
}

type pooledPage struct {
	Page
	once    sync.Once
	release func()
	err     error
}

func (p *pooledPage) Close() error {
	p.once.Do(func() {
		p.err = p.Page.Close()
		p.release()
	})
	return p.err
}
