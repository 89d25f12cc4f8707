package db

import (
	"context"
	"database/sql"
	"fmt"
)

type SanitizerRepo struct {
	db *sql.DB
}

func NewSanitizerRepo(db *sql.DB) *SanitizerRepo {
	return &SanitizerRepo{db: db}
}

// Record appends one sanitization audit row. Never updated.
func (r *SanitizerRepo) Record(ctx context.Context, a *SanitizerAudit) error {
	if a.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO llm_sanitizer_audit (id, action_id, stage, findings, created_at)
VALUES (?, ?, ?, ?, ?)
`, a.ID, nullIfEmpty(a.ActionID), a.Stage, nullIfEmpty(a.Findings), formatTimestamp(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record sanitizer audit: %w", err)
	}
	return nil
}

func (r *SanitizerRepo) ListByAction(ctx context.Context, actionID string) ([]*SanitizerAudit, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, action_id, stage, findings, created_at FROM llm_sanitizer_audit WHERE action_id = ? ORDER BY created_at ASC
`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sanitizer audit for %q: %w", actionID, err)
	}
	defer rows.Close()

	var result []*SanitizerAudit
	for rows.Next() {
		var a SanitizerAudit
		var actionIDCol, findings sql.NullString
		var createdAtRaw string
		if err := rows.Scan(&a.ID, &actionIDCol, &a.Stage, &findings, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan sanitizer audit row: %w", err)
		}
		a.ActionID = stringOrEmpty(actionIDCol)
		a.Findings = stringOrEmpty(findings)
		ts, err := parseTimestamp(createdAtRaw)
		if err != nil {
			return nil, err
		}
		a.CreatedAt = ts
		result = append(result, &a)
	}
	return result, rows.Err()
}
