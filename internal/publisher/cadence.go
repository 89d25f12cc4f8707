package publisher

import "regexp"

// CadenceDecision is the tagged result of a cadence-gate check: whether a
// document's doc_type is currently allowed to publish, and why not if not.
type CadenceDecision struct {
	Allowed bool
	Reason  string
}

// cadenceRule matches a doc_type (by filename/doc_type pattern) to the
// publishing cadence it is gated on (weekly_, monthly_, catalyst, etc.).
type cadenceRule struct {
	pattern  *regexp.Regexp
	cadence  string
	taskName string
}

var cadenceRules = []cadenceRule{
	{regexp.MustCompile(`(?i)^weekly_`), "weekly", "weekly_report_publish"},
	{regexp.MustCompile(`(?i)^monthly_`), "monthly", "monthly_report_publish"},
	{regexp.MustCompile(`(?i)^yearly_`), "yearly", "yearly_report_publish"},
	{regexp.MustCompile(`(?i)^daily_journal_`), "daily", "journal_publish"},
	{regexp.MustCompile(`(?i)^catalyst`), "daily", "economic_calendar"},
}

// ClassifyDocType returns the schedule task name gating docType, or ""
// when no rule matches (meaning the document is always eligible once its
// readiness gate passes).
func ClassifyDocType(docType string) string {
	for _, rule := range cadenceRules {
		if rule.pattern.MatchString(docType) {
			return rule.taskName
		}
	}
	return ""
}
