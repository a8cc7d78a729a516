package quest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// VerdictKind classifies a submitted answer.
type VerdictKind string

const (
	// VerdictAccepted means the answer passed and the participant advances.
	VerdictAccepted VerdictKind = "ACCEPTED"

	// VerdictRejected means the answer failed a hard rule; the participant
	// stays on the task and the reason is surfaced.
	VerdictRejected VerdictKind = "REJECTED"

	// VerdictPartialRetry means the puzzle answer was incomplete and the
	// participant gets another try, with a hint naming what is missing.
	VerdictPartialRetry VerdictKind = "PARTIAL_RETRY"

	// VerdictAcceptedWithCorrection means the puzzle retries are used up:
	// the participant advances anyway and is shown the answer key.
	VerdictAcceptedWithCorrection VerdictKind = "ACCEPTED_WITH_CORRECTION"
)

// Verdict is the validator's classification of a submitted answer.
type Verdict struct {
	Kind VerdictKind

	// Reason carries actionable guidance for VerdictRejected.
	Reason string

	// Missing lists the concept keys not yet found, for VerdictPartialRetry.
	// Empty when nothing at all matched.
	Missing []string

	// AttemptsLeft is the number of retries remaining, for VerdictPartialRetry.
	AttemptsLeft int

	// Correction carries the canonical answer key, for
	// VerdictAcceptedWithCorrection.
	Correction string
}

var accepted = Verdict{Kind: VerdictAccepted}

// Rule is one validation rule variant. attempts is the number of prior
// failed submissions for this task by this participant; only SetMatch
// reads it. Rules are pure: they never mutate attempt state themselves.
type Rule interface {
	Evaluate(normalized string, attempts int) Verdict
}

// MinLength rejects answers shorter than N runes.
type MinLength struct {
	N      int
	Reason string
}

func (r MinLength) Evaluate(normalized string, _ int) Verdict {
	if utf8.RuneCountInString(normalized) < r.N {
		return Verdict{Kind: VerdictRejected, Reason: r.Reason}
	}
	return accepted
}

// RequiredTokens rejects unless every AllOf token and, when AnyOf is
// non-empty, at least one AnyOf token occurs as a substring of the
// normalized text.
type RequiredTokens struct {
	AllOf     []string
	AllReason string
	AnyOf     []string
	AnyReason string
}

func (r RequiredTokens) Evaluate(normalized string, _ int) Verdict {
	for _, tok := range r.AllOf {
		if !strings.Contains(normalized, tok) {
			return Verdict{Kind: VerdictRejected, Reason: r.AllReason}
		}
	}
	if len(r.AnyOf) > 0 {
		found := false
		for _, tok := range r.AnyOf {
			if strings.Contains(normalized, tok) {
				found = true
				break
			}
		}
		if !found {
			return Verdict{Kind: VerdictRejected, Reason: r.AnyReason}
		}
	}
	return accepted
}

// Target is one concept the puzzle asks for, with the surface forms
// accepted for it (synonyms, abbreviations, alternate scripts).
type Target struct {
	Key      string
	Variants []string
}

// SetMatch accepts only when every target concept is found, in any
// order. Failures are forgiven after MaxAttempts total submissions: the
// participant advances and is shown Correction.
type SetMatch struct {
	Targets     []Target
	MaxAttempts int
	Correction  string
}

func (r SetMatch) Evaluate(normalized string, attempts int) Verdict {
	text := collapseSeparators(normalized)

	var missing []string
	for _, target := range r.Targets {
		found := false
		for _, variant := range target.Variants {
			if strings.Contains(text, variant) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, target.Key)
		}
	}
	if len(missing) == 0 {
		return accepted
	}

	// attempts counts prior failures, so this submission is attempt
	// number attempts+1.
	if attempts+1 >= r.MaxAttempts {
		return Verdict{Kind: VerdictAcceptedWithCorrection, Correction: r.Correction}
	}

	return Verdict{
		Kind:         VerdictPartialRetry,
		Missing:      missing,
		AttemptsLeft: r.MaxAttempts - attempts - 1,
	}
}

// NoOp accepts anything that survived the length floor.
type NoOp struct{}

func (NoOp) Evaluate(string, int) Verdict {
	return accepted
}

// separatorRe matches the delimiter runs participants use between puzzle
// answers: commas, hyphens, periods, semicolons, colons, newlines, tabs.
var separatorRe = regexp.MustCompile(`[,\-.;:\n\r\t]+`)

// Normalize lower-cases and trims an answer for rule evaluation.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// collapseSeparators rewrites delimiter runs and whitespace runs into
// single spaces so variant matching is insensitive to answer formatting.
func collapseSeparators(s string) string {
	s = separatorRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Validate classifies a raw answer for the task at the given index.
// attempts is the participant's prior failed-attempt count for the task.
func (c *Catalog) Validate(index int, raw string, attempts int) (Verdict, error) {
	task, err := c.TaskAt(index)
	if err != nil {
		return Verdict{}, err
	}
	normalized := Normalize(raw)
	if v := task.Length.Evaluate(normalized, attempts); v.Kind != VerdictAccepted {
		return v, nil
	}
	return task.Rule.Evaluate(normalized, attempts), nil
}
