package cmd

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/answer"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/runner"
	"github.com/spigell/autoapply/internal/state"
)

func TestReportByCompany(t *testing.T) {
	jobs := []state.JobRef{
		{ID: "1", Title: "Platform Engineer", Company: "Acme"},
		{ID: "2", Title: "Backend Engineer", Company: "Acme"},
		{ID: "3", Title: "SRE", Company: "Globex"},
	}

	got := reportByCompany(jobs)
	want := map[string][]string{
		"Acme":   {"Backend Engineer", "Platform Engineer"},
		"Globex": {"SRE"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("report = %v, want %v", got, want)
	}
}

func TestWithoutJobs(t *testing.T) {
	jobs := []state.JobRef{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	kept := withoutJobs(jobs, []string{"2", "missing"})
	if len(kept) != 2 || kept[0].ID != "1" || kept[1].ID != "3" {
		t.Fatalf("unexpected jobs left: %+v", kept)
	}

	if _, ok := findJob(kept, "2"); ok {
		t.Fatal("dropped job is still found")
	}
	if job, ok := findJob(kept, "3"); !ok || job.ID != "3" {
		t.Fatalf("findJob(3) = %+v, %t", job, ok)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     StateConfig
		wantErr bool
	}{
		{name: "default is file", cfg: StateConfig{Path: filepath.Join(dir, "run.json")}},
		{name: "sqlite", cfg: StateConfig{Driver: "sqlite", Path: filepath.Join(dir, "run.db")}},
		{name: "memory", cfg: StateConfig{Driver: "Memory"}},
		{name: "unknown", cfg: StateConfig{Driver: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStore(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer store.Close()

			st := state.New("run-1", "user-1", "linkedin", time.Now())
			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.RunID != "run-1" {
				t.Fatalf("loaded run %q", loaded.RunID)
			}
		})
	}
}

func TestNewOracleProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	ctx := context.Background()

	oracle, err := newOracle(ctx, AIConfig{Provider: "none"}, nil, zap.NewNop())
	if err != nil || oracle != nil {
		t.Fatalf("none provider = %v, %v", oracle, err)
	}

	if _, err := newOracle(ctx, AIConfig{Provider: "claude"}, nil, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}

	if _, err := newOracle(ctx, AIConfig{Provider: "openai"}, nil, zap.NewNop()); err == nil {
		t.Fatal("expected an error without an api key")
	}
}

func TestResolversAreReleasedWhenSuperseded(t *testing.T) {
	a := &application{
		config:    &Config{},
		logger:    zap.NewNop(),
		fetcher:   form.NewHTTPFetcher(nil),
		resolvers: make(map[string]*answer.Resolver),
	}

	a.formRunner("run-1", state.Profile{}, "form", nil)
	a.formRunner("run-1", state.Profile{}, "form", nil)
	if len(a.resolvers) != 1 {
		t.Fatalf("expected one resolver per run, got %d", len(a.resolvers))
	}

	a.formRunner("run-2", state.Profile{}, "form", nil)
	if _, ok := a.resolvers["run-1"]; ok || len(a.resolvers) != 1 {
		t.Fatalf("expected only run-2 to keep a resolver, got %v", a.resolvers)
	}

	a.notifier(nil).Notify(runner.Event{Type: runner.EventSearchCompleted, RunID: "run-2"})
	if len(a.resolvers) != 0 {
		t.Fatalf("expected finished run to release its resolver, got %d", len(a.resolvers))
	}
}
