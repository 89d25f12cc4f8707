package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type LifecycleRepo struct {
	db *sql.DB
}

func NewLifecycleRepo(db *sql.DB) *LifecycleRepo {
	return &LifecycleRepo{db: db}
}

// Register inserts a new lifecycle record, or upgrades an already-tracked
// path: the fingerprint/status/version only change when contentHash differs
// from what's stored or status advances past the current rank, so a
// re-registration of an unchanged, already-advanced document is a true
// no-op rather than silently reverting progress.
func (r *LifecycleRepo) Register(ctx context.Context, filePath, docType, contentHash, status string) error {
	now := formatTimestamp(nowUTC())
	if status == "" {
		status = LifecycleStatusDraft
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start register transaction for %q: %w", filePath, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingHash, existingStatus string
	err = tx.QueryRowContext(ctx, `SELECT fingerprint, status FROM document_lifecycle WHERE file_path = ?`, filePath).Scan(&existingHash, &existingStatus)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_lifecycle (file_path, doc_type, status, fingerprint, version, retry_count, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, 0, ?, ?)
`, filePath, docType, status, nullIfEmpty(contentHash), now, now); err != nil {
			return fmt.Errorf("failed to register document %q: %w", filePath, err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up document %q: %w", filePath, err)
	default:
		hashChanged := contentHash != "" && contentHash != existingHash
		statusAdvanced := LifecycleStatusRank(status) > LifecycleStatusRank(existingStatus)
		if !hashChanged && !statusAdvanced {
			return tx.Commit()
		}
		newStatus := existingStatus
		if statusAdvanced {
			newStatus = status
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE document_lifecycle
SET fingerprint = ?, status = ?, version = version + 1, updated_at = ?
WHERE file_path = ?
`, nullIfEmpty(contentHash), newStatus, now, filePath); err != nil {
			return fmt.Errorf("failed to update registered document %q: %w", filePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit register for %q: %w", filePath, err)
	}
	return nil
}

// UpdateStatus advances filePath's status, enforcing the total order
// draft < in_progress < review < published < archived: a call that would
// regress or repeat the current status is rejected, except through
// MarkForUpdate's explicit published -> in_progress exception. remoteID, if
// non-empty, is stored alongside (e.g. a Notion page id); published_at is
// stamped the first time status reaches published.
func (r *LifecycleRepo) UpdateStatus(ctx context.Context, filePath, status, remoteID string) error {
	return r.updateStatus(ctx, filePath, status, remoteID, false)
}

func (r *LifecycleRepo) updateStatus(ctx context.Context, filePath, status, remoteID string, allowRegress bool) error {
	rank := LifecycleStatusRank(status)
	if rank < 0 {
		return fmt.Errorf("unrecognized lifecycle status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start status update transaction for %q: %w", filePath, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var currentStatus string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM document_lifecycle WHERE file_path = ?`, filePath).Scan(&currentStatus); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("document %q not found", filePath)
		}
		return fmt.Errorf("failed to read status for %q: %w", filePath, err)
	}

	if !allowRegress && rank <= LifecycleStatusRank(currentStatus) {
		return fmt.Errorf("cannot move document %q from %q to %q: not a forward transition", filePath, currentStatus, status)
	}

	now := nowUTC()
	publishedAt := sql.NullString{}
	if status == LifecycleStatusPublished {
		publishedAt = sql.NullString{String: formatTimestamp(now), Valid: true}
	}

	if publishedAt.Valid {
		if _, err := tx.ExecContext(ctx, `
UPDATE document_lifecycle
SET status = ?, version = version + 1, remote_id = COALESCE(NULLIF(?, ''), remote_id), published_at = COALESCE(published_at, ?), updated_at = ?
WHERE file_path = ?
`, status, remoteID, publishedAt, formatTimestamp(now), filePath); err != nil {
			return fmt.Errorf("failed to update status for %q: %w", filePath, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
UPDATE document_lifecycle
SET status = ?, version = version + 1, remote_id = COALESCE(NULLIF(?, ''), remote_id), updated_at = ?
WHERE file_path = ?
`, status, remoteID, formatTimestamp(now), filePath); err != nil {
			return fmt.Errorf("failed to update status for %q: %w", filePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update for %q: %w", filePath, err)
	}
	return nil
}

func (r *LifecycleRepo) Get(ctx context.Context, filePath string) (*LifecycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT file_path, doc_type, status, fingerprint, version, retry_count, last_error, claimed_by, claimed_at, published_at, remote_id, created_at, updated_at
FROM document_lifecycle WHERE file_path = ?
`, filePath)
	rec, err := scanLifecycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// IsSafeToOverwrite reports whether a generator may overwrite filePath: true
// when the record is absent or still in draft (never published/complete).
func (r *LifecycleRepo) IsSafeToOverwrite(ctx context.Context, filePath string) (bool, error) {
	rec, err := r.Get(ctx, filePath)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.Status == LifecycleStatusDraft, nil
}

// MarkForUpdate flags a previously published document dirty so the publisher
// re-syncs it on its next pass; this is the one sanctioned regression in the
// status total order.
func (r *LifecycleRepo) MarkForUpdate(ctx context.Context, filePath string) error {
	return r.updateStatus(ctx, filePath, LifecycleStatusInProgress, "", true)
}

// ReleaseStaleClaims clears claimed_by/claimed_at on records claimed longer
// than staleAfter, mirroring the task queue's orphan recovery.
func (r *LifecycleRepo) ReleaseStaleClaims(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := formatTimestamp(nowUTC().Add(-staleAfter))
	res, err := r.db.ExecContext(ctx, `
UPDATE document_lifecycle SET claimed_by = NULL, claimed_at = NULL, updated_at = ?
WHERE claimed_at IS NOT NULL AND claimed_at < ?
`, formatTimestamp(nowUTC()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale lifecycle claims: %w", err)
	}
	return res.RowsAffected()
}

// IsReadyForSync reports whether the record's status qualifies it for the
// publisher: it has reached review (ready to go out) or is already published
// (eligible for a re-sync after content changes).
func (r *LifecycleRepo) IsReadyForSync(ctx context.Context, filePath string) (bool, error) {
	rec, err := r.Get(ctx, filePath)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.Status == LifecycleStatusReview || rec.Status == LifecycleStatusPublished, nil
}

// ListByStatus returns lifecycle records in the given status, oldest first.
func (r *LifecycleRepo) ListByStatus(ctx context.Context, status string) ([]*LifecycleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT file_path, doc_type, status, fingerprint, version, retry_count, last_error, claimed_by, claimed_at, published_at, remote_id, created_at, updated_at
FROM document_lifecycle WHERE status = ? ORDER BY updated_at ASC
`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle records by status %q: %w", status, err)
	}
	defer rows.Close()
	return scanLifecycles(rows)
}

// ListNotPublished returns records not yet published, ordered by retry_count
// then updated_at, per the retry worker's selection order, capped at limit.
func (r *LifecycleRepo) ListNotPublished(ctx context.Context, limit int) ([]*LifecycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT file_path, doc_type, status, fingerprint, version, retry_count, last_error, claimed_by, claimed_at, published_at, remote_id, created_at, updated_at
FROM document_lifecycle
WHERE status != 'published'
ORDER BY retry_count ASC, updated_at ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpublished lifecycle records: %w", err)
	}
	defer rows.Close()
	return scanLifecycles(rows)
}

// RecordPublishFailure increments retry_count and stores the error, used by
// the publisher's retry worker.
func (r *LifecycleRepo) RecordPublishFailure(ctx context.Context, filePath, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE document_lifecycle SET retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE file_path = ?
`, lastError, formatTimestamp(nowUTC()), filePath)
	if err != nil {
		return fmt.Errorf("failed to record publish failure for %q: %w", filePath, err)
	}
	return nil
}

func scanLifecycle(row rowScanner) (*LifecycleRecord, error) {
	var rec LifecycleRecord
	var createdAtRaw, updatedAtRaw string
	var fingerprint, lastError, claimedBy, claimedAt, publishedAt, remoteID sql.NullString
	if err := row.Scan(
		&rec.FilePath, &rec.DocType, &rec.Status, &fingerprint, &rec.Version, &rec.RetryCount,
		&lastError, &claimedBy, &claimedAt, &publishedAt, &remoteID, &createdAtRaw, &updatedAtRaw,
	); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	if rec.ClaimedAt, err = parseTimestampPtr(claimedAt); err != nil {
		return nil, err
	}
	if rec.PublishedAt, err = parseTimestampPtr(publishedAt); err != nil {
		return nil, err
	}
	rec.Fingerprint = stringOrEmpty(fingerprint)
	rec.LastError = stringOrEmpty(lastError)
	rec.ClaimedBy = stringOrEmpty(claimedBy)
	rec.RemoteID = stringOrEmpty(remoteID)
	return &rec, nil
}

func scanLifecycles(rows *sql.Rows) ([]*LifecycleRecord, error) {
	var recs []*LifecycleRecord
	for rows.Next() {
		rec, err := scanLifecycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
