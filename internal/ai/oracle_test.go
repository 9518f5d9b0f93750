package ai

import (
	"strings"
	"testing"

	"github.com/spigell/autoapply/internal/state"
)

func TestSnapToOption(t *testing.T) {
	options := []string{"Select an option", "Yes", "No"}

	cases := []struct {
		name    string
		answer  string
		options []string
		want    string
	}{
		{name: "exact ignoring case", answer: "yes", options: options, want: "Yes"},
		{name: "answer contains option", answer: "No, I do not", options: options, want: "No"},
		{name: "no options", answer: "  42 ", want: "42"},
		{name: "no match keeps answer", answer: "Maybe", options: []string{"Yes", "No"}, want: "Maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SnapToOption(tc.answer, tc.options); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParseAnswer(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"answer\": \"5 years\"}\n```": "5 years",
		`{"answer": true}`:                        "Yes",
		`{"answer": 7}`:                           "7",
		`"plain text"`:                            "plain text",
		"Remote only":                             "Remote only",
	}

	for raw, want := range cases {
		if got := ParseAnswer(raw); got != want {
			t.Fatalf("ParseAnswer(%q): expected %q, got %q", raw, want, got)
		}
	}
}

func TestPayloadJSON(t *testing.T) {
	q := Question{Label: "Desired salary", Profile: state.Profile{FirstName: "Ada"}}

	out, err := q.PayloadJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, fragment := range []string{`"question": "Desired salary"`, `"options": []`, `"firstName": "Ada"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %s in payload, got %s", fragment, out)
		}
	}
}
