// Package insights is the insights-extraction cycle step: it reads
// newly-registered documents and turns extracted action items into queue
// Enqueue calls with deterministic IDs so a second run the same day upserts
// rather than duplicates.
package insights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/lifecycle"
	"github.com/amuzetnoM/syndicate-sub000/internal/queue"
)

// ActionItem is one piece of follow-up work an Extractor derives from a
// document's content.
type ActionItem struct {
	ActionType string
	Priority   int
	Payload    string
}

// Extractor is the consumed LLM/AI-provider boundary: given a document's
// raw content, it proposes zero or more follow-up action items.
type Extractor interface {
	Extract(ctx context.Context, docType, content string) ([]ActionItem, error)
}

// ExtractableDocTypes are the lifecycle doc_types insights extraction
// considers: reports and research documents, not raw data feeds.
var ExtractableDocTypes = map[string]bool{
	"reports":  true,
	"research": true,
}

type Engine struct {
	lifecycle *lifecycle.Registry
	queue     *queue.Queue
	extractor Extractor
}

func New(lc *lifecycle.Registry, q *queue.Queue, extractor Extractor) *Engine {
	return &Engine{lifecycle: lc, queue: q, extractor: extractor}
}

// RunForDocument extracts action items from one document and enqueues them
// with deterministic action_ids (ACT-YYYYMMDD-<first 4 hex digits of the
// path's SHA-256>-NNNN), so re-running insights
// extraction on the same document the same day upserts instead of
// duplicating.
func (e *Engine) RunForDocument(ctx context.Context, filePath, docType, content string, runDate time.Time) (int, error) {
	if !ExtractableDocTypes[docType] {
		return 0, nil
	}

	items, err := e.extractor.Extract(ctx, docType, content)
	if err != nil {
		return 0, fmt.Errorf("failed to extract insights from %q: %w", filePath, err)
	}

	dateStamp := runDate.UTC().Format("20060102")
	docHash := sha256.Sum256([]byte(filePath))
	docPrefix := hex.EncodeToString(docHash[:])[:4]
	enqueued := 0
	for i, item := range items {
		actionID := fmt.Sprintf("ACT-%s-%s-%04d", dateStamp, docPrefix, i+1)
		if _, err := e.queue.Enqueue(ctx, queue.EnqueueInput{
			ActionID:   actionID,
			ActionType: item.ActionType,
			Priority:   item.Priority,
			Payload:    item.Payload,
		}); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue insight %q: %w", actionID, err)
		}
		enqueued++
	}
	return enqueued, nil
}
