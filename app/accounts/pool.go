package accounts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/samber/lo"
)

var ErrNoAccountAvailable = errors.New("no account available")

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAuthFailure Outcome = "auth_failure"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeCancelled   Outcome = "cancelled"
)

// Notifier is told when a credential leaves the active state.
type Notifier interface {
	CredentialUnhealthy(ctx context.Context, cred database.Credential, status database.CredentialStatus)
}

type Config struct {
	DailyQuota int
	Cooldown   time.Duration
}

// Pool hands out exclusive leases on stored credentials.
type Pool struct {
	repo     database.CredentialRepository
	notifier Notifier
	quota    int
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	inUse map[string]uint64
	seq   uint64
}

func NewPool(repo database.CredentialRepository, notifier Notifier, config Config) *Pool {
	return &Pool{
		repo:     repo,
		notifier: notifier,
		quota:    config.DailyQuota,
		cooldown: config.Cooldown,
		now:      time.Now,
		inUse:    make(map[string]uint64),
	}
}

// Lease is the right to use one credential for one operation.
type Lease struct {
	Credential database.Credential
	id         uint64
	released   atomic.Bool
}

func usageDay(t time.Time) string {
	return t.In(time.Local).Format(time.DateOnly)
}

// Lease picks the eligible credential with the lowest usage today, least
// recently used first on ties, and records the use before returning.
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, err := p.repo.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	now := p.now()
	day := usageDay(now)

	candidates := lo.Filter(creds, func(c database.Credential, _ int) bool {
		return p.eligible(c, now, day)
	})
	if len(candidates) == 0 {
		return nil, ErrNoAccountAvailable
	}

	slices.SortFunc(candidates, func(a, b database.Credential) int {
		if c := cmp.Compare(a.UsageOn(day), b.UsageOn(day)); c != 0 {
			return c
		}
		if c := compareLastUsed(a.LastUsedAt, b.LastUsedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	chosen := candidates[0]
	usage := chosen.UsageOn(day) + 1
	if err := p.repo.RecordLease(ctx, chosen.ID, usage, day, now); err != nil {
		return nil, fmt.Errorf("failed to record lease: %w", err)
	}

	if chosen.Status == database.CredentialBlocked {
		slog.Info("Credential back from cooldown", "credential", chosen.ID)
	}

	usedAt := now.UTC()
	chosen.DailyUsage = usage
	chosen.UsageDay = day
	chosen.LastUsedAt = &usedAt
	chosen.Status = database.CredentialActive
	chosen.BlockedAt = nil

	p.seq++
	p.inUse[chosen.ID] = p.seq

	slog.Debug("Credential leased", "credential", chosen.ID, "usage", usage, "quota", p.quota)

	return &Lease{Credential: chosen, id: p.seq}, nil
}

func (p *Pool) eligible(c database.Credential, now time.Time, day string) bool {
	if _, busy := p.inUse[c.ID]; busy {
		return false
	}
	if c.UsageOn(day) >= p.quota {
		return false
	}

	switch c.Status {
	case database.CredentialActive:
		return true
	case database.CredentialBlocked:
		return c.BlockedAt != nil && !now.Before(c.BlockedAt.Add(p.cooldown))
	default:
		return false
	}
}

func compareLastUsed(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

// Release returns the credential to the pool and applies the health signal
// carried by outcome. Releasing the same lease twice is a no-op.
func (p *Pool) Release(ctx context.Context, lease *Lease, outcome Outcome) error {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		return nil
	}

	id := lease.Credential.ID

	p.mu.Lock()
	if p.inUse[id] == lease.id {
		delete(p.inUse, id)
	}
	p.mu.Unlock()

	// The borrowing operation may have been cancelled; its health signal
	// still has to land.
	ctx = context.WithoutCancel(ctx)
	now := p.now()

	var status database.CredentialStatus
	switch outcome {
	case OutcomeCancelled:
		return nil
	case OutcomeSuccess:
		status = database.CredentialActive
	case OutcomeAuthFailure:
		status = database.CredentialExpired
	case OutcomeRateLimited:
		status = database.CredentialBlocked
	default:
		return fmt.Errorf("unknown lease outcome %q", outcome)
	}

	if err := p.repo.UpdateCredentialStatus(ctx, id, status, now); err != nil {
		return fmt.Errorf("failed to update credential health: %w", err)
	}

	if status != database.CredentialActive {
		slog.Warn("Credential marked unhealthy", "credential", id, "status", string(status), "outcome", string(outcome))
		if p.notifier != nil {
			p.notifier.CredentialUnhealthy(ctx, lease.Credential, status)
		}
	}
	return nil
}

type Summary struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	Status        database.CredentialStatus `json:"status"`
	DailyUsage    int                       `json:"daily_usage"`
	DailyQuota    int                       `json:"daily_quota"`
	InUse         bool                      `json:"in_use"`
	LastUsedAt    *time.Time                `json:"last_used_at,omitempty"`
	LastCheckedAt *time.Time                `json:"last_checked_at,omitempty"`
	CooldownUntil *time.Time                `json:"cooldown_until,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// Summaries lists credentials without their session material.
func (p *Pool) Summaries(ctx context.Context) ([]Summary, error) {
	creds, err := p.repo.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	day := usageDay(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()

	return lo.Map(creds, func(c database.Credential, _ int) Summary {
		s := Summary{
			ID:            c.ID,
			Name:          c.Name,
			Status:        c.Status,
			DailyUsage:    c.UsageOn(day),
			DailyQuota:    p.quota,
			LastUsedAt:    c.LastUsedAt,
			LastCheckedAt: c.LastCheckedAt,
			CreatedAt:     c.CreatedAt,
		}
		_, s.InUse = p.inUse[c.ID]
		if c.Status == database.CredentialBlocked && c.BlockedAt != nil {
			until := c.BlockedAt.Add(p.cooldown)
			s.CooldownUntil = &until
		}
		return s
	}), nil
}
