// Package ai defines the question oracle used when static rules cannot answer a form field.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/autoapply/internal/state"
)

// Question is one form field put to an oracle.
type Question struct {
	Label   string
	Options []string
	// Kind is the field type as seen on the page (text, textarea, select, radio, checkbox).
	Kind    string
	Profile state.Profile
}

// Oracle answers a single form question.
type Oracle interface {
	Answer(ctx context.Context, q Question) (string, error)
}

// Payload renders the question as the JSON object sent to remote oracles.
func (q Question) Payload() map[string]any {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	return map[string]any{
		"question": q.Label,
		"options":  options,
		"userData": q.Profile,
	}
}

// PayloadJSON is Payload encoded with indentation for prompts.
func (q Question) PayloadJSON() (string, error) {
	data, err := json.MarshalIndent(q.Payload(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal question payload: %w", err)
	}
	return string(data), nil
}

// SnapToOption maps a free-text answer onto one of options. An exact
// case-insensitive match wins, then containment either way. With no options,
// or no match, the trimmed answer is returned.
func SnapToOption(answer string, options []string) string {
	answer = strings.TrimSpace(answer)
	if answer == "" || len(options) == 0 {
		return answer
	}

	lower := strings.ToLower(answer)
	for _, option := range options {
		if strings.EqualFold(strings.TrimSpace(option), answer) {
			return option
		}
	}
	for _, option := range options {
		candidate := strings.ToLower(strings.TrimSpace(option))
		if candidate == "" {
			continue
		}
		if strings.Contains(lower, candidate) || strings.Contains(candidate, lower) {
			return option
		}
	}
	return answer
}

// ExtractJSON strips markdown code fences models like to wrap JSON in.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

// ParseAnswer reads an {"answer": ...} object out of a model response. Plain
// text responses are returned as-is.
func ParseAnswer(raw string) string {
	cleaned := ExtractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return strings.Trim(cleaned, "\" \n")
	}

	switch val := data["answer"].(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
