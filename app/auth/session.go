package auth

import (
	"time"

	"github.com/lysyi3m/mp-comb/app/browser"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusWaiting   Status = "waiting"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
)

type LoginSession struct {
	Token      string        `json:"token"`
	Status     Status        `json:"status"`
	QRCode     string        `json:"qr_code"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"-"`
	IdentityID string        `json:"identity_id,omitempty"`
}

func (s LoginSession) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

type entry struct {
	session LoginSession
	page    browser.Page // held while waiting
	evictAt time.Time    // set once the session is terminal
}

// sessionStore indexes login sessions by token. Waiting sessions expire at
// their TTL and terminal ones linger as tombstones for one more TTL so late
// polls still see the final status.
type sessionStore struct {
	entries map[string]*entry
}

func newSessionStore() *sessionStore {
	return &sessionStore{entries: make(map[string]*entry)}
}

func (s *sessionStore) put(e *entry) {
	s.entries[e.session.Token] = e
}

func (s *sessionStore) get(token string) *entry {
	return s.entries[token]
}

func (s *sessionStore) waiting() *entry {
	for _, e := range s.entries {
		if e.session.Status == StatusWaiting {
			return e
		}
	}
	return nil
}

// sweep expires overdue waiting sessions and drops old tombstones. It
// returns the pages the caller must close.
func (s *sessionStore) sweep(now time.Time) []browser.Page {
	var pages []browser.Page
	for token, e := range s.entries {
		if e.session.Status == StatusWaiting && !now.Before(e.session.ExpiresAt()) {
			e.session.Status = StatusExpired
			e.evictAt = e.session.ExpiresAt().Add(e.session.TTL)
			if e.page != nil {
				pages = append(pages, e.page)
				e.page = nil
			}
		}
		if !e.evictAt.IsZero() && !now.Before(e.evictAt) {
			delete(s.entries, token)
		}
	}
	return pages
}

func (s *sessionStore) drain() []browser.Page {
	var pages []browser.Page
	for token, e := range s.entries {
		if e.page != nil {
			pages = append(pages, e.page)
		}
		delete(s.entries, token)
	}
	return pages
}

func (s *sessionStore) len() int {
	return len(s.entries)
}
