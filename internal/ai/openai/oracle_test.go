package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/autoapply/internal/ai"
)

type fakeCompleter struct {
	reply string
	err   error
	user  string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.user = user
	return f.reply, f.err
}

func TestOracleAnswer(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	fake := &fakeCompleter{reply: `{"answer": "Two weeks"}`}
	oracle := newOracle(fake, "gpt-test", 0, zap.New(core))

	answer, err := oracle.Answer(context.Background(), ai.Question{
		Label:   "Notice period",
		Options: []string{"Immediately", "Two weeks", "One month"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Two weeks" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if !strings.Contains(fake.user, `"Notice period"`) {
		t.Fatalf("expected question in user message: %s", fake.user)
	}

	entries := observed.FilterMessage("openai answer request").All()
	if len(entries) != 1 || entries[0].ContextMap()["ai_model"] != "gpt-test" {
		t.Fatalf("expected request log with model field, got %+v", entries)
	}
}

func TestOracleAnswerError(t *testing.T) {
	oracle := newOracle(&fakeCompleter{err: errors.New("rate limited")}, "gpt-test", 0, nil)

	if _, err := oracle.Answer(context.Background(), ai.Question{Label: "Salary"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New("  ", "", 0, nil); err == nil {
		t.Fatal("expected missing key error")
	}
}
