package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ CredentialRepository = (*CredentialRepo)(nil)

type CredentialRepo struct {
	db *DB
}

func NewCredentialRepository(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `id, name, session, skey, status, daily_usage, usage_day,
	last_used_at, last_checked_at, blocked_at, created_at, updated_at`

func (r *CredentialRepo) GetCredential(ctx context.Context, id string) (*Credential, error) {
	var c Credential
	err := r.db.GetContext(ctx, &c, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

func (r *CredentialRepo) ListCredentials(ctx context.Context) ([]Credential, error) {
	var creds []Credential
	err := r.db.SelectContext(ctx, &creds, `SELECT `+credentialColumns+` FROM credentials ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

func (r *CredentialRepo) UpsertCredential(ctx context.Context, c Credential) (bool, error) {
	now := time.Now().UTC()

	existing, err := r.GetCredential(ctx, c.ID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE credentials
			SET name = ?, session = ?, skey = ?, status = ?, blocked_at = NULL,
			    last_checked_at = ?, updated_at = ?
			WHERE id = ?
		`, c.Name, c.Session, c.Skey, CredentialActive, now, now, c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to refresh credential: %w", err)
		}
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, name, session, skey, status, daily_usage, usage_day,
		                         last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?, ?)
	`, c.ID, c.Name, c.Session, c.Skey, CredentialActive, now, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert credential: %w", err)
	}
	return true, nil
}

// RecordLease stores the post-lease usage counter. A credential coming off
// cooldown is written back as active here.
func (r *CredentialRepo) RecordLease(ctx context.Context, id string, usage int, usageDay string, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET daily_usage = ?, usage_day = ?, last_used_at = ?, status = ?, blocked_at = NULL, updated_at = ?
		WHERE id = ?
	`, usage, usageDay, usedAt.UTC(), CredentialActive, usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %s not found", id)
	}
	return nil
}

func (r *CredentialRepo) UpdateCredentialStatus(ctx context.Context, id string, status CredentialStatus, checkedAt time.Time) error {
	var blockedAt *time.Time
	if status == CredentialBlocked {
		t := checkedAt.UTC()
		blockedAt = &t
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET status = ?, blocked_at = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`, status, blockedAt, checkedAt.UTC(), checkedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update credential status: %w", err)
	}
	return nil
}
