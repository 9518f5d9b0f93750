package form

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/page/pagetest"
	"github.com/spigell/autoapply/internal/state"
)

type mapResolver struct {
	mu      sync.Mutex
	answers map[string]string
	asked   []ai.Question
}

func (m *mapResolver) Resolve(_ context.Context, q ai.Question) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked = append(m.asked, q)
	return m.answers[q.Label]
}

type stubFetcher struct {
	fetched []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	s.fetched = append(s.fetched, rawURL)
	return "/tmp/" + rawURL[strings.LastIndex(rawURL, "/")+1:], nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.StepDelay = 0
	cfg.FieldDelay = 0
	return cfg
}

func text(id, label, value string) page.Field {
	return page.Field{ID: id, Kind: page.KindText, Value: value, Hints: page.LabelHints{For: label}}
}

func button(id, caption string) page.Button {
	return page.Button{ID: id, Text: caption}
}

func TestRunSubmitsMultiStepForm(t *testing.T) {
	fake := pagetest.New(
		pagetest.Step{
			Fields: []page.Field{
				{ID: "cv", Kind: page.KindFile, Hints: page.LabelHints{Wrapping: "Upload resume"}},
				text("first", "First name", ""),
				text("phone", "Mobile phone number", "+1 000"),
				text("city", "City", "Paris"),
			},
			Buttons: []page.Button{button("dismiss", "Dismiss"), button("next", "Continue to next step")},
		},
		pagetest.Step{
			Fields: []page.Field{
				{
					ID: "exp", Kind: page.KindSelect, Value: "Select an option",
					Hints: page.LabelHints{For: "Years of Go experience"},
					Options: []page.Option{
						{Value: "", Text: "Select an option"},
						{Value: "1", Text: "0-2 years"},
						{Value: "2", Text: "3-5 years"},
						{Value: "3", Text: "6+ years"},
					},
				},
				{ID: "reloc-yes", Kind: page.KindRadio, Group: "reloc", Value: "yes", Hints: page.LabelHints{For: "Yes", Legend: "Willing to relocate?"}},
				{ID: "reloc-no", Kind: page.KindRadio, Group: "reloc", Value: "no", Hints: page.LabelHints{For: "No", Legend: "Willing to relocate?"}},
				{ID: "terms", Kind: page.KindCheckbox, Required: true, Hints: page.LabelHints{Wrapping: "I agree to the terms"}},
			},
			Buttons: []page.Button{button("review", "Review your application"), button("dismiss", "Dismiss")},
		},
		pagetest.Step{
			Buttons: []page.Button{button("submit", "Submit application")},
		},
		pagetest.Step{
			Buttons: []page.Button{button("done", "Done")},
		},
	)

	resolver := &mapResolver{answers: map[string]string{
		"First name":             "Ada",
		"Mobile phone number":    "+44 20 0000",
		"City":                   "London",
		"Years of Go experience": "6+",
		"Willing to relocate?":   "No",
	}}
	fetcher := &stubFetcher{}
	progress := 0

	filler := New(fake, resolver, fetcher, state.Profile{ResumeURL: "https://files/cv.pdf"}, ".modal", fastConfig(), nil)
	filler.OnProgress = func() { progress++ }

	result := filler.Run(context.Background(), state.JobRef{ID: "1"})

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", result)
	}
	if result.Steps != 3 {
		t.Fatalf("expected 3 steps, got %d", result.Steps)
	}
	if fake.Uploads["cv"] != "/tmp/cv.pdf" {
		t.Fatalf("expected resume upload, got %v", fake.Uploads)
	}
	if fake.Values["first"] != "Ada" {
		t.Fatalf("expected first name, got %q", fake.Values["first"])
	}
	if fake.Values["phone"] != "+44 20 0000" {
		t.Fatalf("expected phone to be overwritten, got %q", fake.Values["phone"])
	}
	if _, touched := fake.Values["city"]; touched {
		t.Fatalf("expected prefilled city to be kept")
	}
	if fake.Values["exp"] != "3" {
		t.Fatalf("expected 6+ years option, got %q", fake.Values["exp"])
	}
	if !fake.Checked["reloc-no"] || fake.Checked["reloc-yes"] {
		t.Fatalf("expected No radio checked, got %v", fake.Checked)
	}
	if !fake.Checked["terms"] {
		t.Fatalf("expected required consent to be checked")
	}
	if fake.Clicks[len(fake.Clicks)-1] != "done" {
		t.Fatalf("expected confirmation dismissed, clicks %v", fake.Clicks)
	}
	if progress == 0 {
		t.Fatalf("expected progress callbacks")
	}
	for _, q := range resolver.asked {
		if q.Label == "Years of Go experience" && len(q.Options) != 3 {
			t.Fatalf("expected placeholder to be excluded from options, got %v", q.Options)
		}
	}
}

func TestRunTerminatesWithoutActions(t *testing.T) {
	fake := pagetest.New(pagetest.Step{})
	filler := New(fake, &mapResolver{}, nil, state.Profile{}, "", fastConfig(), nil)

	result := filler.Run(context.Background(), state.JobRef{ID: "1"})

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %+v", result)
	}
	if result.Steps != 3 {
		t.Fatalf("expected 3 empty attempts, got %d", result.Steps)
	}
	if fake.DialogsClosed == 0 {
		t.Fatalf("expected recovery to close dialogs")
	}
}

func TestRunBoundedByStepCeiling(t *testing.T) {
	// a form whose "Next" button never leads anywhere
	fake := pagetest.New(pagetest.Step{
		Fields:  []page.Field{text("q", "Anything", "")},
		Buttons: []page.Button{button("next", "Next")},
	})
	cfg := fastConfig()
	cfg.MaxSteps = 7

	result := New(fake, &mapResolver{}, nil, state.Profile{}, "", cfg, nil).Run(context.Background(), state.JobRef{ID: "1"})

	if result.Status != StatusFailed || result.Steps != 7 {
		t.Fatalf("expected failure at ceiling, got %+v", result)
	}
	if !strings.Contains(result.Reason, "ceiling") {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestRunRecoversFromPanics(t *testing.T) {
	fake := pagetest.New(pagetest.Step{})
	fake.PanicOnFields = true

	result := New(fake, &mapResolver{}, nil, state.Profile{}, "", fastConfig(), nil).Run(context.Background(), state.JobRef{ID: "1"})

	if result.Status != StatusFailed || !strings.HasPrefix(result.Reason, "panic") {
		t.Fatalf("expected panic to become failure, got %+v", result)
	}
	if fake.DialogsClosed != 1 {
		t.Fatalf("expected one recovery pass, got %d", fake.DialogsClosed)
	}
}

func TestRunFailsOnEnumerationError(t *testing.T) {
	fake := pagetest.New(pagetest.Step{})
	fake.FieldsErr = errors.New("target closed")

	result := New(fake, &mapResolver{}, nil, state.Profile{}, "", fastConfig(), nil).Run(context.Background(), state.JobRef{ID: "1"})

	if result.Status != StatusFailed || !strings.Contains(result.Reason, "target closed") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAdvanceStepPriority(t *testing.T) {
	fake := pagetest.New(pagetest.Step{Buttons: []page.Button{
		button("close", "Close"),
		button("next", "Next"),
		button("review", "Review"),
	}})
	filler := New(fake, &mapResolver{}, nil, state.Profile{}, "", fastConfig(), nil)

	res := filler.AdvanceStep(context.Background(), "")
	if res.Status != StepPreview || res.Button.ID != "review" {
		t.Fatalf("expected review to win, got %+v", res)
	}

	empty := New(pagetest.New(pagetest.Step{}), &mapResolver{}, nil, state.Profile{}, "", fastConfig(), nil)
	if res := empty.AdvanceStep(context.Background(), ""); res.Status != StepError {
		t.Fatalf("expected error without buttons, got %+v", res)
	}
}

func TestMatchOptionCascade(t *testing.T) {
	options := []page.Option{
		{Value: "", Text: "Please select"},
		{Value: "us", Text: "United States"},
		{Value: "uk", Text: "United Kingdom"},
		{Value: "de", Text: "Germany"},
	}

	cases := []struct {
		answer string
		want   string
	}{
		{answer: "uk", want: "uk"},
		{answer: "germany", want: "de"},
		{answer: "Kingdom", want: "uk"},
		{answer: "kingdom of great britain", want: "uk"},
		{answer: "Atlantis", want: "us"},
		{answer: "", want: "us"},
	}

	for _, tc := range cases {
		got, ok := MatchOption(options, tc.answer)
		if !ok || got.Value != tc.want {
			t.Fatalf("MatchOption(%q): expected %q, got %+v", tc.answer, tc.want, got)
		}
	}

	if _, ok := MatchOption([]page.Option{{Value: "", Text: "Select"}}, "x"); ok {
		t.Fatalf("expected no match with only a placeholder")
	}
}

func TestHTTPFetcherDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Disposition", `attachment; filename="ada-cv.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	defer fetcher.Cleanup()

	first, err := fetcher.Fetch(context.Background(), srv.URL+"/files/123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := fetcher.Fetch(context.Background(), srv.URL+"/files/123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if first != second || hits.Load() != 1 {
		t.Fatalf("expected cached download, got %q %q after %d hits", first, second, hits.Load())
	}
	if !strings.HasSuffix(first, "ada-cv.pdf") {
		t.Fatalf("expected disposition filename, got %q", first)
	}
	data, err := os.ReadFile(first)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected file content %q, %v", data, err)
	}

	if err := fetcher.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, got %v", err)
	}
}

func TestHTTPFetcherRejectsOversizedFiles(t *testing.T) {
	original := maxDownloadSize
	maxDownloadSize = 16
	defer func() { maxDownloadSize = original }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := 17
		switch r.URL.Path {
		case "/exact/cv.pdf":
			size = 16
		case "/chunked":
			// no Content-Length, so only the copied size reveals the overflow
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(strings.Repeat("x", size)))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.Client())
	defer fetcher.Cleanup()

	for _, p := range []string{"/sized/cv.pdf", "/chunked"} {
		if _, err := fetcher.Fetch(context.Background(), srv.URL+p); !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("%s: expected ErrFileTooLarge, got %v", p, err)
		}
	}

	if fetcher.dir != "" {
		entries, err := os.ReadDir(fetcher.dir)
		if err != nil {
			t.Fatalf("read download dir: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected truncated files to be removed, found %d", len(entries))
		}
	}

	// exactly at the limit is fine
	saved, err := fetcher.Fetch(context.Background(), srv.URL+"/exact/cv.pdf")
	if err != nil {
		t.Fatalf("fetch at limit: %v", err)
	}
	if data, err := os.ReadFile(saved); err != nil || len(data) != 16 {
		t.Fatalf("unexpected file %q: %d bytes, %v", filepath.Base(saved), len(data), err)
	}
}
