package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/state"
)

type titleKeywordsFilter struct {
	include []string
	exclude []string
}

// NewTitleKeywords creates a filter on job titles: a title must contain one of
// the include keywords, when any are configured, and none of the exclude keywords.
func NewTitleKeywords() Filter {
	return &titleKeywordsFilter{}
}

func (f *titleKeywordsFilter) Name() string { return "title_keywords" }

func (f *titleKeywordsFilter) Disable(string) {}

func (f *titleKeywordsFilter) IsEnabled() bool { return true }

func (f *titleKeywordsFilter) Validate(cfg *Config) error {
	f.include, f.exclude = nil, nil
	if cfg == nil {
		return nil
	}
	f.include = lowerAll(cfg.TitleMustContain)
	f.exclude = lowerAll(cfg.TitleMustNotContain)
	return nil
}

func (f *titleKeywordsFilter) Apply(_ context.Context, deps Deps, v *Jobs) (*Jobs, Step, error) {
	initial := v.Len()
	if len(f.include) == 0 && len(f.exclude) == 0 {
		return v, v.step(initial, nil), nil
	}

	removed := v.Exclude(func(job state.JobRef) bool {
		if len(f.include) > 0 && !containsAnyFold(job.Title, f.include) {
			return true
		}
		return containsAnyFold(job.Title, f.exclude)
	})
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding jobs by title keywords",
			zap.Strings("excluded_jobs", IDs(removed)),
			zap.Int("jobs_left", v.Len()),
		)
	}

	return v, v.step(initial, removed), nil
}

func (f *titleKeywordsFilter) Status() Status {
	details := map[string]string{}
	if len(f.include) > 0 {
		details["must_contain"] = strings.Join(f.include, ",")
	}
	if len(f.exclude) > 0 {
		details["must_not_contain"] = strings.Join(f.exclude, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

func lowerAll(values []string) []string {
	var out []string
	for _, value := range values {
		if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
