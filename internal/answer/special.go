package answer

import (
	"strings"

	"github.com/spigell/autoapply/internal/ai"
)

// Handler answers one semantic category of question. It reports false when
// the label is outside its category or the profile has nothing to offer.
type Handler func(label string, q ai.Question) (string, bool)

// DefaultHandlers returns the special-question handlers in evaluation order.
// Sponsorship precedes authorization since sponsorship questions usually
// mention work authorization too.
func DefaultHandlers() []Handler {
	return []Handler{
		sponsorship,
		authorization,
		relocation,
		remote,
		salary,
		availability,
		yearsOfExperience,
	}
}

func sponsorship(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "sponsor", "visa") {
		return "", false
	}
	return yesNo(q, boolOr(q.Profile.Preferences.RequiresSponsorship, false)), true
}

func authorization(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "authorized to work", "authorised to work", "legally", "eligible to work", "right to work", "work permit", "work authorization", "work authorisation") {
		return "", false
	}
	return yesNo(q, boolOr(q.Profile.Preferences.AuthorizedToWork, true)), true
}

func relocation(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "relocat") {
		return "", false
	}
	return yesNo(q, boolOr(q.Profile.Preferences.WillingToRelocate, true)), true
}

func remote(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "remote", "work from home", "hybrid") {
		return "", false
	}
	return yesNo(q, boolOr(q.Profile.Preferences.RemoteWork, true)), true
}

func salary(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "salary", "compensation", "pay expectation", "expected pay", "ctc") {
		return "", false
	}
	value := strings.TrimSpace(q.Profile.Preferences.DesiredSalary)
	if value == "" {
		return "", false
	}
	if isTextKind(q.Kind) && q.Profile.Preferences.SalaryCurrency != "" && !containsAny(label, "number", "numeric") {
		value = value + " " + q.Profile.Preferences.SalaryCurrency
	}
	return choose(q, value), true
}

func availability(label string, q ai.Question) (string, bool) {
	if !containsAny(label, "notice period", "start date", "availab", "when can you start", "earliest start") {
		return "", false
	}
	prefs := q.Profile.Preferences
	value := prefs.NoticePeriod
	if containsAny(label, "start date", "when can you start", "earliest start") && prefs.StartDate != "" {
		value = prefs.StartDate
	}
	if strings.TrimSpace(value) == "" {
		value = "2 weeks"
	}
	return choose(q, value), true
}

func yearsOfExperience(label string, q ai.Question) (string, bool) {
	if !containsAll(label, []string{"years", "experience"}) {
		return "", false
	}
	value := strings.TrimSpace(q.Profile.Preferences.YearsOfExperience)
	if value == "" {
		return "", false
	}
	return choose(q, value), true
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func isTextKind(kind string) bool {
	return kind == "" || kind == "text" || kind == "textarea"
}

// yesNo renders a boolean intent for the field kind and its options.
func yesNo(q ai.Question, v bool) string {
	answer := "No"
	if v {
		answer = "Yes"
	}
	if len(q.Options) > 0 {
		return ai.SnapToOption(answer, q.Options)
	}
	if q.Kind == "checkbox" {
		if v {
			return "true"
		}
		return "false"
	}
	return answer
}

func choose(q ai.Question, value string) string {
	if len(q.Options) == 0 {
		return value
	}
	return ai.SnapToOption(value, q.Options)
}
