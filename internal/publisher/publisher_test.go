package publisher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

type fakeTarget struct {
	calls int
}

func (f *fakeTarget) Publish(ctx context.Context, filePath, content string) (string, error) {
	f.calls++
	return "remote-ref-" + filePath, nil
}

func newTestPublisher(t *testing.T, target Target) (*Publisher, *lifecycle.Registry, *db.PublishRepo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "publisher-test.db")
	database, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	lc := lifecycle.New(db.NewLifecycleRepo(database.SQL()))
	pr := db.NewPublishRepo(database.SQL())
	sched := schedule.New(db.NewScheduleRepo(database.SQL()))
	if err := sched.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("EnsureDefaults() error = %v", err)
	}

	return New(lc, pr, sched, target, nil), lc, pr
}

func TestPublishOneSkipsWhenNotReady(t *testing.T) {
	ctx := context.Background()
	target := &fakeTarget{}
	p, lc, _ := newTestPublisher(t, target)

	dir := t.TempDir()
	filePath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(filePath, []byte("---\nstatus: draft\n---\nbody"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := lc.Register(ctx, filePath, "misc_report", "hash-draft", db.LifecycleStatusDraft); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := p.PublishOne(ctx, filePath, "misc_report"); err != nil {
		t.Fatalf("PublishOne() error = %v", err)
	}
	if target.calls != 0 {
		t.Fatalf("target.calls = %d, want 0 while draft", target.calls)
	}
}

func TestPublishOneSyncsReadyDocumentOnce(t *testing.T) {
	ctx := context.Background()
	target := &fakeTarget{}
	p, lc, _ := newTestPublisher(t, target)

	dir := t.TempDir()
	filePath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(filePath, []byte("---\nstatus: review\n---\nbody text"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := lc.Register(ctx, filePath, "misc_report", "hash-v1", db.LifecycleStatusDraft); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := lc.UpdateStatus(ctx, filePath, db.LifecycleStatusInProgress, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := lc.UpdateStatus(ctx, filePath, db.LifecycleStatusReview, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if err := p.PublishOne(ctx, filePath, "misc_report"); err != nil {
		t.Fatalf("PublishOne() error = %v", err)
	}
	if target.calls != 1 {
		t.Fatalf("target.calls = %d, want 1", target.calls)
	}

	// A second pass with identical content must be a no-op (fingerprint dedup).
	if err := p.PublishOne(ctx, filePath, "misc_report"); err != nil {
		t.Fatalf("second PublishOne() error = %v", err)
	}
	if target.calls != 1 {
		t.Fatalf("target.calls = %d, want still 1 after unchanged re-publish", target.calls)
	}
}

func TestFingerprintIgnoresFrontMatterAndWhitespace(t *testing.T) {
	a := Fingerprint("---\nstatus: draft\n---\nhello   world")
	b := Fingerprint("---\nstatus: published\n---\nhello world")
	if a != b {
		t.Fatalf("Fingerprint() differs across front-matter/whitespace-only changes")
	}
}
