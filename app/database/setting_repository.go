package database

import (
	"context"
	"fmt"
	"time"
)

var _ SettingRepository = (*SettingRepo)(nil)

type SettingRepo struct {
	db *DB
}

func NewSettingRepository(db *DB) *SettingRepo {
	return &SettingRepo{db: db}
}

func (r *SettingRepo) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		values[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setting rows: %w", err)
	}
	return values, nil
}

func (r *SettingRepo) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (r *SettingRepo) InsertSettingIfMissing(ctx context.Context, key, value string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to seed setting %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
