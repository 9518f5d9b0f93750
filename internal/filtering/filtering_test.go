package filtering

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/autoapply/internal/state"
)

func jobs() []state.JobRef {
	return []state.JobRef{
		{ID: "1", Title: "Senior Go Engineer", Company: "Acme Corp"},
		{ID: "2", Title: "Go Developer", Company: "Initech"},
		{ID: "3", Title: "Java Developer", Company: "Globex"},
		{ID: "4", Title: "Go Team Lead", Company: "Hooli"},
		{ID: "5", Title: "Platform Engineer (Go)", Company: "Umbrella"},
	}
}

func TestRunPreservesOrderAndReportsDrops(t *testing.T) {
	dir := t.TempDir()
	excludePath := filepath.Join(dir, "exclude.json")

	excluded := &Excluded{}
	excluded.Append([]state.JobRef{{ID: "5", Company: "Umbrella"}}, time.Now())
	require.NoError(t, excluded.ToFile(excludePath))

	run := state.New("run", "user", "linkedin", time.Now())
	run.LogViewed(state.JobRef{ID: "2"}, state.OutcomeExternal, "", time.Now())

	cfg := &Config{
		ExcludeCompanies:    []string{" acme "},
		ExcludeFile:         excludePath,
		TitleMustContain:    []string{"Go"},
		TitleMustNotContain: []string{"lead"},
	}

	core, logs := observer.New(zap.InfoLevel)
	kept, dropped, err := Run(context.Background(), cfg, Deps{Logger: zap.New(core), Run: run}, Default(), jobs())
	require.NoError(t, err)

	assert.Empty(t, kept)

	byFilter := map[string]string{}
	for _, d := range dropped {
		byFilter[d.Job.ID] = d.Filter
	}
	assert.Equal(t, map[string]string{
		"1": "excluded_companies",
		"2": "already_viewed",
		"3": "title_keywords",
		"4": "title_keywords",
		"5": "exclude_file",
	}, byFilter)
	assert.NotZero(t, logs.FilterMessage("excluding jobs by companies").Len())
}

func TestRunKeepsOrder(t *testing.T) {
	kept, dropped, err := Run(context.Background(), &Config{TitleMustNotContain: []string{"java"}}, Deps{}, Default(), jobs())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "4", "5"}, IDs(kept))
	require.Len(t, dropped, 1)
	assert.Equal(t, "3", dropped[0].Job.ID)
}

func TestRunDoesNotMutateInput(t *testing.T) {
	input := jobs()
	_, _, err := Run(context.Background(), &Config{ExcludeCompanies: []string{"acme"}}, Deps{}, Default(), input)
	require.NoError(t, err)

	assert.Equal(t, jobs(), input)
}

func TestDisabledFilterIsSkipped(t *testing.T) {
	run := state.New("run", "user", "indeed", time.Now())
	run.LogViewed(state.JobRef{ID: "1"}, state.OutcomeNoApply, "", time.Now())

	steps := Default()
	DisableByName(steps, "already_viewed", "resuming")

	kept, _, err := Run(context.Background(), nil, Deps{Run: run}, steps, jobs())
	require.NoError(t, err)
	assert.Len(t, kept, 5)

	statuses := Describe(steps)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "already_viewed", statuses[0].Name)
	assert.False(t, statuses[0].Enabled)
	assert.Equal(t, "resuming", statuses[0].Reason)
}

func TestExcludeFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := Run(context.Background(), &Config{ExcludeFile: path}, Deps{}, Default(), jobs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclude_file")
}

func TestExcludedAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.json")

	missing, err := LoadExcluded(path)
	require.NoError(t, err)
	assert.Empty(t, missing.Items)

	excluded := &Excluded{}
	assert.Equal(t, 2, excluded.Append(jobs()[:2], time.Now()))
	assert.Equal(t, 1, excluded.Append(jobs()[1:3], time.Now()))
	require.NoError(t, excluded.ToFile(path))

	// rewriting a shorter list must not leave trailing bytes behind
	shorter := &Excluded{Items: excluded.Items[:1]}
	require.NoError(t, shorter.ToFile(path))

	loaded, err := LoadExcluded(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, loaded.IDs())
}
