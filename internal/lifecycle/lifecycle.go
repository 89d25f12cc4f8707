// Package lifecycle is the Lifecycle Registry component: it normalizes
// document paths once at every public entry point and wraps internal/db's
// LifecycleRepo with the header-aware readiness check.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/header"
)

type Registry struct {
	repo *db.LifecycleRepo
}

func New(repo *db.LifecycleRepo) *Registry {
	return &Registry{repo: repo}
}

// NormalizePath resolves path to an absolute, symlink-free form when it
// exists, and to its absolute form otherwise — every public method here
// routes through it so two different spellings of the same file never
// produce two lifecycle rows.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("failed to resolve symlinks for %q: %w", path, err)
	}
	return resolved, nil
}

func (r *Registry) Register(ctx context.Context, path, docType, contentHash, status string) error {
	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return r.repo.Register(ctx, norm, docType, contentHash, status)
}

func (r *Registry) UpdateStatus(ctx context.Context, path, status, remoteID string) error {
	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return r.repo.UpdateStatus(ctx, norm, status, remoteID)
}

func (r *Registry) Get(ctx context.Context, path string) (*db.LifecycleRecord, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return r.repo.Get(ctx, norm)
}

func (r *Registry) IsSafeToOverwrite(ctx context.Context, path string) (bool, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	return r.repo.IsSafeToOverwrite(ctx, norm)
}

func (r *Registry) MarkForUpdate(ctx context.Context, path string) error {
	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return r.repo.MarkForUpdate(ctx, norm)
}

func (r *Registry) ReleaseStaleClaims(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return r.repo.ReleaseStaleClaims(ctx, staleAfter)
}

// IsReadyForSync checks both the persisted lifecycle status and, when the
// file is readable, its current header: a header whose status is draft
// (including a missing or unparseable header) makes the document not ready,
// and any other header status defers to the persisted status (review or
// published is ready).
func (r *Registry) IsReadyForSync(ctx context.Context, path string) (bool, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return false, err
	}

	raw, readErr := os.ReadFile(norm)
	if readErr == nil {
		block, _ := header.Parse(string(raw))
		if block.Status == header.StatusDraft {
			return false, nil
		}
	}

	return r.repo.IsReadyForSync(ctx, norm)
}

func (r *Registry) ListByStatus(ctx context.Context, status string) ([]*db.LifecycleRecord, error) {
	return r.repo.ListByStatus(ctx, status)
}
