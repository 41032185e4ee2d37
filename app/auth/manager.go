package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/mp-comb/app/browser"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/samber/lo"
)

var (
	ErrLoginInitFailed = errors.New("login init failed")
	ErrLoginInProgress = errors.New("login already in progress")
	ErrSessionNotFound = errors.New("login session not found")
)

const (
	DefaultLoginURL = "https://weread.qq.com/web/login"

	qrSelector     = ".wr_login_img"
	avatarSelector = ".wr_avatar"

	cookieVid  = "wr_vid"
	cookieName = "wr_name"
	cookieSkey = "wr_skey"
)

type LoginPool interface {
	AcquireLogin(ctx context.Context) (browser.Page, error)
}

type Config struct {
	TTL           time.Duration
	LoginURL      string
	QRWait        time.Duration
	NavTimeout    time.Duration
	SweepInterval time.Duration
}

type Manager struct {
	pool   LoginPool
	creds  database.CredentialRepository
	config Config
	now    func() time.Time

	mu    sync.Mutex
	store *sessionStore
}

func NewManager(pool LoginPool, creds database.CredentialRepository, config Config) *Manager {
	if config.TTL <= 0 {
		config.TTL = 300 * time.Second
	}
	if config.LoginURL == "" {
		config.LoginURL = DefaultLoginURL
	}
	if config.QRWait <= 0 {
		config.QRWait = 10 * time.Second
	}
	if config.NavTimeout <= 0 {
		config.NavTimeout = 20 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Second
	}

	return &Manager{
		pool:   pool,
		creds:  creds,
		config: config,
		now:    time.Now,
		store:  newSessionStore(),
	}
}

func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// StartLogin opens the login surface in the designated login context and
// returns the QR code to scan.
func (m *Manager) StartLogin(ctx context.Context) (*LoginSession, error) {
	m.mu.Lock()
	m.sweepLocked(m.now())
	if m.store.waiting() != nil {
		m.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	page, err := m.pool.AcquireLogin(ctx)
	m.mu.Unlock()

	if errors.Is(err, browser.ErrLoginSlotBusy) {
		return nil, ErrLoginInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginInitFailed, err)
	}

	session := LoginSession{
		Token:     uuid.NewString(),
		Status:    StatusCreated,
		CreatedAt: m.now(),
		TTL:       m.config.TTL,
	}

	qr, err := m.captureQR(ctx, page)
	if err != nil {
		page.Close()
		slog.Warn("Login init failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLoginInitFailed, err)
	}

	session.QRCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(qr)
	session.Status = StatusWaiting

	m.mu.Lock()
	m.store.put(&entry{session: session, page: page})
	m.mu.Unlock()

	slog.Info("Login session started", "token", session.Token, "expires_at", session.ExpiresAt())

	out := session
	return &out, nil
}

func (m *Manager) captureQR(ctx context.Context, page browser.Page) ([]byte, error) {
	navCtx, cancel := context.WithTimeout(ctx, m.config.NavTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, m.config.LoginURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	qrCtx, qrCancel := context.WithTimeout(ctx, m.config.QRWait)
	defer qrCancel()

	if err := page.WaitVisible(qrCtx, qrSelector); err != nil {
		return nil, fmt.Errorf("QR code did not render: %w", err)
	}

	qr, err := page.Screenshot(qrCtx, qrSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to capture QR code: %w", err)
	}
	return qr, nil
}

type LoginStatus struct {
	Status     Status `json:"status"`
	IdentityID string `json:"identity_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// PollLogin reports the state of a login. Once the TTL has passed the
// answer is expired whatever the browser shows.
func (m *Manager) PollLogin(ctx context.Context, token string) (*LoginStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(m.now())

	e := m.store.get(token)
	if e == nil {
		return nil, ErrSessionNotFound
	}

	switch e.session.Status {
	case StatusExpired:
		return &LoginStatus{Status: StatusExpired}, nil
	case StatusConfirmed:
		return &LoginStatus{Status: StatusConfirmed, IdentityID: e.session.IdentityID}, nil
	}

	cookies, ok := m.inspect(ctx, e.page)
	if !ok {
		return &LoginStatus{Status: StatusWaiting}, nil
	}

	// Inspection can take a moment; the deadline still wins.
	if !m.now().Before(e.session.ExpiresAt()) {
		m.sweepLocked(e.session.ExpiresAt())
		return &LoginStatus{Status: StatusExpired}, nil
	}

	cred, ok := credentialFromCookies(cookies, m.now())
	if !ok {
		slog.Debug("Login detected without identity cookie yet", "token", token)
		return &LoginStatus{Status: StatusWaiting}, nil
	}

	created, err := m.creds.UpsertCredential(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	now := m.now()
	e.session.Status = StatusConfirmed
	e.session.IdentityID = cred.ID
	e.evictAt = now.Add(e.session.TTL)
	if e.page != nil {
		e.page.Close()
		e.page = nil
	}

	slog.Info("Login confirmed", "token", token, "credential", cred.ID, "name", cred.Name, "new", created)

	return &LoginStatus{Status: StatusConfirmed, IdentityID: cred.ID, Name: cred.Name}, nil
}

func (m *Manager) inspect(ctx context.Context, page browser.Page) ([]browser.Cookie, bool) {
	if page == nil {
		return nil, false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	location, err := page.Location(checkCtx)
	if err != nil {
		slog.Debug("Failed to read login page location", "error", err)
		return nil, false
	}

	loggedIn := !strings.Contains(location, "login")
	if !loggedIn {
		loggedIn, err = page.Exists(checkCtx, avatarSelector)
		if err != nil {
			slog.Debug("Failed to look for login marker", "error", err)
			return nil, false
		}
	}
	if !loggedIn {
		return nil, false
	}

	cookies, err := page.Cookies(checkCtx)
	if err != nil {
		slog.Debug("Failed to read login cookies", "error", err)
		return nil, false
	}
	return cookies, true
}

func credentialFromCookies(cookies []browser.Cookie, now time.Time) (database.Credential, bool) {
	values := lo.SliceToMap(cookies, func(c browser.Cookie) (string, string) {
		return c.Name, c.Value
	})

	vid := values[cookieVid]
	if vid == "" {
		return database.Credential{}, false
	}

	name, err := url.QueryUnescape(values[cookieName])
	if err != nil || name == "" {
		name = "WeRead user " + vid
	}

	return database.Credential{
		ID:   vid,
		Name: name,
		Skey: values[cookieSkey],
		Session: database.NewSessionBlob(lo.Map(cookies, func(c browser.Cookie, _ int) database.Cookie {
			return database.Cookie(c)
		}), now),
	}, true
}

// Run evicts expired sessions until ctx is done, then closes whatever login
// context is still open.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			pages := m.store.drain()
			m.mu.Unlock()
			for _, p := range pages {
				p.Close()
			}
			return
		case <-ticker.C:
			m.mu.Lock()
			m.sweepLocked(m.now())
			m.mu.Unlock()
		}
	}
}

func (m *Manager) sweepLocked(now time.Time) {
	for _, p := range m.store.sweep(now) {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close expired login context", "error", err)
		}
		slog.Info("Login session expired")
	}
}
