// Package header parses the "---" delimited YAML front-matter block that
// gates a generated document's publish-readiness.
package header

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Block is the parsed front-matter of a generated document.
type Block struct {
	Status string   `yaml:"status"`
	DocType string  `yaml:"doc_type"`
	Date   string    `yaml:"date"`
	Tags   []string  `yaml:"tags"`
}

// StatusDraft is the value used when a document carries no header at all or
// an unparseable one.
const StatusDraft = "draft"

// Parse extracts the front-matter block from raw document content. A missing
// or malformed header is not an error: it resolves to a draft-status Block so
// callers can treat "no header yet" the same as "not ready to publish".
func Parse(raw string) (*Block, string) {
	body := raw
	const delim = "---"
	if !strings.HasPrefix(strings.TrimLeft(raw, "\xef\xbb\xbf\r\n "), delim) {
		return &Block{Status: StatusDraft}, raw
	}

	trimmed := strings.TrimLeft(raw, "\xef\xbb\xbf")
	lines := strings.SplitN(trimmed, "\n", -1)
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != delim {
		return &Block{Status: StatusDraft}, raw
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			end = i
			break
		}
	}
	if end == -1 {
		return &Block{Status: StatusDraft}, raw
	}

	yamlSrc := strings.Join(lines[1:end], "\n")
	var b Block
	if err := yaml.Unmarshal([]byte(yamlSrc), &b); err != nil {
		return &Block{Status: StatusDraft}, raw
	}
	if strings.TrimSpace(b.Status) == "" {
		b.Status = StatusDraft
	}
	restBody := strings.Join(lines[end+1:], "\n")
	return &b, restBody
}

// ExtractDate parses the block's Date field as a calendar date
// (YYYY-MM-DD).
func (b *Block) ExtractDate() (time.Time, error) {
	if b.Date == "" {
		return time.Time{}, fmt.Errorf("header has no date field")
	}
	t, err := time.Parse("2006-01-02", b.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse header date %q: %w", b.Date, err)
	}
	return t, nil
}

// Render serializes a Block back into a "---" delimited front-matter block
// followed by body, used when the orchestrator stamps a status onto a freshly
// generated document.
func Render(b *Block, body string) (string, error) {
	data, err := yaml.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to render header: %w", err)
	}
	return "---\n" + string(data) + "---\n" + body, nil
}
