// Package publisher is the Publisher component: cadence gate, readiness
// gate (document header status), content-fingerprint dedup, and the retry
// worker for previously-failed syncs.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
	"github.com/amuzetnoM/syndicate-sub000/internal/header"
	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

// Target is the consumed remote-publishing interface; the concrete API
// shape of any remote destination is left to the deployment, so the core
// only depends on this boundary.
type Target interface {
	Publish(ctx context.Context, filePath string, content string) (remoteRef string, err error)
}

// NotConfiguredError marks a Publisher with no Target wired in — a
// configuration-kind error, logged once per cycle rather than crashing the
// process.
type NotConfiguredError struct{}

func (NotConfiguredError) Error() string { return "publisher: no remote target configured" }

// RetryHardCap is the retry_count a publish record must reach before the
// retry worker gives up on it.
const RetryHardCap = 5

var frontMatterRule = regexp.MustCompile(`\s+`)

type Publisher struct {
	lifecycle *lifecycle.Registry
	publishes *db.PublishRepo
	schedules *schedule.Tracker
	target    Target
	logger    *slog.Logger
	warnOnce  bool
}

func New(lc *lifecycle.Registry, publishes *db.PublishRepo, schedules *schedule.Tracker, target Target, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{lifecycle: lc, publishes: publishes, schedules: schedules, target: target, logger: logger}
}

// Fingerprint computes a collision-resistant content hash over the
// frontmatter-stripped, whitespace-normalized document body, used to decide
// whether a re-publish is actually necessary.
func Fingerprint(raw string) string {
	_, body := header.Parse(raw)
	normalized := frontMatterRule.ReplaceAllString(strings.TrimSpace(body), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CadenceGate reports whether docType's named schedule is due to run now.
// Doc types with no cadence rule are always allowed.
func (p *Publisher) CadenceGate(ctx context.Context, docType string) (CadenceDecision, error) {
	taskName := ClassifyDocType(docType)
	if taskName == "" {
		return CadenceDecision{Allowed: true, Reason: "no cadence rule for doc type"}, nil
	}
	due, err := p.schedules.ShouldRunNow(ctx, taskName)
	if err != nil {
		return CadenceDecision{}, err
	}
	if !due {
		return CadenceDecision{Allowed: false, Reason: fmt.Sprintf("%s not yet due", taskName)}, nil
	}
	return CadenceDecision{Allowed: true, Reason: fmt.Sprintf("%s due", taskName)}, nil
}

// PublishOne gates, dedups, and syncs a single document, recording the
// outcome in the lifecycle and publish_records tables.
func (p *Publisher) PublishOne(ctx context.Context, filePath, docType string) error {
	gate, err := p.CadenceGate(ctx, docType)
	if err != nil {
		return err
	}
	if !gate.Allowed {
		p.logger.Debug("cadence gate closed", "file_path", filePath, "reason", gate.Reason)
		return nil
	}

	ready, err := p.lifecycle.IsReadyForSync(ctx, filePath)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %q for publish: %w", filePath, err)
	}
	fingerprint := Fingerprint(string(raw))

	last, err := p.publishes.LastFingerprint(ctx, filePath)
	if err != nil {
		return err
	}
	if last != "" && last == fingerprint {
		p.logger.Debug("publish skipped, content unchanged", "file_path", filePath)
		return nil
	}

	if p.target == nil {
		return NotConfiguredError{}
	}

	remoteRef, err := p.target.Publish(ctx, filePath, string(raw))
	if err != nil {
		return fmt.Errorf("failed to publish %q: %w", filePath, err)
	}

	if err := p.publishes.Record(ctx, &db.PublishRecord{FilePath: filePath, Fingerprint: fingerprint, RemoteRef: remoteRef}); err != nil {
		return err
	}
	return p.markPublished(ctx, filePath, remoteRef)
}

func (p *Publisher) markPublished(ctx context.Context, filePath, remoteRef string) error {
	return p.lifecycle.UpdateStatus(ctx, filePath, db.LifecycleStatusPublished, remoteRef)
}

// RetryFailedPublishes is the retry worker: it re-attempts every unpublished
// lifecycle record below RetryHardCap, oldest-by-retry-count first,
// recording failures back onto the lifecycle row.
func (p *Publisher) RetryFailedPublishes(ctx context.Context, records []*db.LifecycleRecord, failureSink func(filePath, errMsg string) error) (int, error) {
	succeeded := 0
	for _, rec := range records {
		if rec.RetryCount >= RetryHardCap {
			p.logger.Info("skipping publish retry, hard cap reached", "file_path", rec.FilePath, "retry_count", rec.RetryCount)
			continue
		}
		if err := p.PublishOne(ctx, rec.FilePath, rec.DocType); err != nil {
			if _, ok := err.(NotConfiguredError); ok {
				return succeeded, err
			}
			if failureSink != nil {
				if sinkErr := failureSink(rec.FilePath, err.Error()); sinkErr != nil {
					return succeeded, sinkErr
				}
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		succeeded++
	}
	return succeeded, nil
}
