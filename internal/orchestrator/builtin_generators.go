package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amuzetnoM/syndicate-sub000/internal/header"
)

// ContentFunc produces a document body for the given cycle date; it is the
// deployment-supplied boundary a generator fills in per document type and
// cadence.
type ContentFunc func(ctx context.Context, cycleDate time.Time) (string, error)

// FileGenerator is a Generator that renders body content via a ContentFunc,
// stamps a header block, and writes the result atomically (tmp file +
// rename) into outputDir, named "<name>_<YYYY-MM-DD>.md". It is the
// concrete Generator every built-in report type in SPEC_FULL.md §4.7 uses;
// a deployment may instead implement Generator directly for richer sources.
type FileGenerator struct {
	name, docType, cadence, outputDir string
	status                            string
	content                           ContentFunc
}

// NewFileGenerator builds a FileGenerator. status is the header status
// stamped on the written file ("review" makes it immediately eligible for
// publishing and insights extraction; "draft" holds it back until something
// else promotes it).
func NewFileGenerator(name, docType, cadence, outputDir, status string, content ContentFunc) *FileGenerator {
	return &FileGenerator{name: name, docType: docType, cadence: cadence, outputDir: outputDir, status: status, content: content}
}

func (g *FileGenerator) Name() string    { return g.name }
func (g *FileGenerator) DocType() string { return g.docType }
func (g *FileGenerator) Cadence() string { return g.cadence }

func (g *FileGenerator) Invoke(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	body, err := g.content(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generator %q failed: %w", g.name, err)
	}

	rendered, err := header.Render(&header.Block{
		Status:  g.status,
		DocType: g.docType,
		Date:    now.Format("2006-01-02"),
	}, body)
	if err != nil {
		return nil, fmt.Errorf("generator %q failed to render header: %w", g.name, err)
	}

	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("generator %q failed to create output dir: %w", g.name, err)
	}
	finalPath := filepath.Join(g.outputDir, fmt.Sprintf("%s_%s.md", g.name, now.Format("2006-01-02")))

	tmp, err := os.CreateTemp(g.outputDir, g.name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("generator %q failed to create temp file: %w", g.name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("generator %q failed to write content: %w", g.name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("generator %q failed to close temp file: %w", g.name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("generator %q failed to rename into place: %w", g.name, err)
	}

	return []string{finalPath}, nil
}
