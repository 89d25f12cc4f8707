package db

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfigRepo is a generic key/value store over system_config, used for
// FeatureToggle rows as well as executor heartbeat/leader election state
// ("executor_heartbeat_<worker_id>", "executor_leader") — the same table the
// original project overloads for both purposes.
type ConfigRepo struct {
	db *sql.DB
}

func NewConfigRepo(db *sql.DB) *ConfigRepo {
	return &ConfigRepo{db: db}
}

func (r *ConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config key %q: %w", key, err)
	}
	return value, true, nil
}

func (r *ConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, formatTimestamp(nowUTC()))
	if err != nil {
		return fmt.Errorf("failed to set config key %q: %w", key, err)
	}
	return nil
}

func (r *ConfigRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM system_config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete config key %q: %w", key, err)
	}
	return nil
}

func (r *ConfigRepo) IsEnabled(ctx context.Context, key string, defaultValue bool) (bool, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return defaultValue, nil
	}
	return value == "true" || value == "1" || value == "on", nil
}

// CompareAndSwap atomically replaces key's value with newValue only if its
// current value equals oldValue (or the key is absent and oldValue is ""),
// used by leader election to steal a stale "executor_leader" row without a
// race against a concurrent challenger.
func (r *ConfigRepo) CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	now := formatTimestamp(nowUTC())
	if oldValue == "" {
		res, err := r.db.ExecContext(ctx, `
INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO NOTHING
`, key, newValue, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert config key %q: %w", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return affected > 0, nil
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE system_config SET value = ?, updated_at = ? WHERE key = ? AND value = ?
`, newValue, now, key, oldValue)
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap config key %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
