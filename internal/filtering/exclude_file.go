package filtering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/state"
)

// Excluded is the on-disk list of jobs the user never wants to apply to.
type Excluded struct {
	Items []*ExcludedJob `json:"items"`
}

type ExcludedJob struct {
	ID         string    `json:"id"`
	URL        string    `json:"url,omitempty"`
	Company    string    `json:"company,omitempty"`
	ExcludedAt time.Time `json:"excludedAt"`
}

// LoadExcluded reads an exclude file. A missing or empty file is an empty list.
func LoadExcluded(path string) (*Excluded, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Excluded{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return &Excluded{}, nil
	}

	var excluded Excluded
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &excluded, nil
}

// Append adds jobs that are not listed yet.
func (e *Excluded) Append(jobs []state.JobRef, now time.Time) int {
	known := make(map[string]struct{}, len(e.Items))
	for _, item := range e.Items {
		known[item.ID] = struct{}{}
	}

	added := 0
	for _, job := range jobs {
		if _, ok := known[job.ID]; ok || job.ID == "" {
			continue
		}
		known[job.ID] = struct{}{}
		e.Items = append(e.Items, &ExcludedJob{ID: job.ID, URL: job.URL, Company: job.Company, ExcludedAt: now.UTC()})
		added++
	}
	return added
}

func (e *Excluded) IDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func (e *Excluded) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

type excludeFileFilter struct {
	path string
}

// NewExcludeFile creates a filter that removes jobs contained in the exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, v *Jobs) (*Jobs, Step, error) {
	initial := v.Len()
	if f.path == "" {
		return v, v.step(initial, nil), nil
	}

	excluded, err := LoadExcluded(f.path)
	if err != nil {
		return v, Step{}, fmt.Errorf("getting excluded jobs from file: %w", err)
	}

	ids := make(map[string]struct{}, len(excluded.Items))
	for _, id := range excluded.IDs() {
		ids[id] = struct{}{}
	}
	removed := v.Exclude(func(job state.JobRef) bool {
		_, ok := ids[job.ID]
		return ok
	})
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding jobs based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_jobs", IDs(removed)),
			zap.Int("jobs_left", v.Len()),
		)
	}

	return v, v.step(initial, removed), nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
