package insights

import (
	"bufio"
	"context"
	"strings"

	"github.com/amuzetnoM/syndicate-sub000/internal/db"
)

// actionMarkers are the line-prefix keywords HeuristicExtractor treats as
// action insights: "research:" and "investigate:" become research tasks;
// "todo:", "action:" and "follow up:" become general insights follow-ups.
var actionMarkers = map[string]string{
	"research:":    "research",
	"investigate:": "research",
	"todo:":        "insights",
	"action:":      "insights",
	"follow up:":   "insights",
}

// HeuristicExtractor is the built-in, dependency-free Extractor: it scans a
// document line by line for the action markers above and turns each match
// into an ActionItem. Deployments that want an LLM-backed Extractor provide
// their own implementation of the Extractor interface instead.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(_ context.Context, _ string, content string) ([]ActionItem, error) {
	var items []ActionItem
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		for marker, actionType := range actionMarkers {
			if idx := strings.Index(lower, marker); idx == 0 {
				body := strings.TrimSpace(line[len(marker):])
				if body == "" {
					continue
				}
				items = append(items, ActionItem{
					ActionType: actionType,
					Priority:   db.PriorityMedium,
					Payload:    body,
				})
				break
			}
		}
	}
	return items, nil
}
