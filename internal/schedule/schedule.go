// Package schedule is the Schedule Tracker component: a thin passthrough
// wrapper over internal/db's ScheduleRepo.
package schedule

import (
	"context"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
)

type Tracker struct {
	repo *db.ScheduleRepo
}

func New(repo *db.ScheduleRepo) *Tracker {
	return &Tracker{repo: repo}
}

func (t *Tracker) EnsureDefaults(ctx context.Context) error {
	return t.repo.EnsureDefaults(ctx)
}

func (t *Tracker) EnsureSchedule(ctx context.Context, taskName, cadence string) error {
	return t.repo.EnsureSchedule(ctx, taskName, cadence)
}

func (t *Tracker) ShouldRunNow(ctx context.Context, taskName string) (bool, error) {
	return t.repo.ShouldRunNow(ctx, taskName)
}

func (t *Tracker) MarkRun(ctx context.Context, taskName string) error {
	return t.repo.MarkRun(ctx, taskName)
}

func (t *Tracker) Status(ctx context.Context) ([]*db.ScheduleTracker, error) {
	return t.repo.Status(ctx)
}
