package db

import (
	"context"
	"database/sql"
	"fmt"
)

type PublishRepo struct {
	db *sql.DB
}

func NewPublishRepo(db *sql.DB) *PublishRepo {
	return &PublishRepo{db: db}
}

func (r *PublishRepo) Record(ctx context.Context, rec *PublishRecord) error {
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO publish_records (id, file_path, fingerprint, remote_ref, published_at)
VALUES (?, ?, ?, ?, ?)
`, rec.ID, rec.FilePath, rec.Fingerprint, nullIfEmpty(rec.RemoteRef), formatTimestamp(rec.PublishedAt))
	if err != nil {
		return fmt.Errorf("failed to record publish for %q: %w", rec.FilePath, err)
	}
	return nil
}

// LastFingerprint returns the fingerprint of the most recent publish for
// filePath, or "" if it has never been published — used for the publisher's
// content-fingerprint dedup check.
func (r *PublishRepo) LastFingerprint(ctx context.Context, filePath string) (string, error) {
	var fp string
	err := r.db.QueryRowContext(ctx, `
SELECT fingerprint FROM publish_records WHERE file_path = ? ORDER BY published_at DESC LIMIT 1
`, filePath).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last fingerprint for %q: %w", filePath, err)
	}
	return fp, nil
}
