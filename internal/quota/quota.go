// Package quota classifies handler errors into the retry policy the
// executor daemon acts on, in exactly one place, rather than scattering
// string-matching through callers.
package quota

import "strings"

type Kind int

const (
	KindUnknown Kind = iota
	KindQuota
	KindRetriable
	KindPermanent
)

// patterns is the documented, fixed set of substrings that identify a
// provider response as quota/rate-limit exhaustion, matched case-insensitively
// against the error text. Kept as one ordered list so the policy lives in a
// single place.
var patterns = []string{
	"quota",
	"rate limit",
	"too many requests",
	"429",
	"resource exhausted",
	"capacity",
	"overloaded",
}

// Classify inspects err's message for the documented quota pattern set.
// It never inspects caller-supplied user data beyond the error string itself,
// and returns KindUnknown when nothing matches, leaving the final
// classification to the caller (usually treated as KindRetriable for network
// errors, KindPermanent for validation errors).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return KindQuota
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindRetriable:
		return "retriable"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}
