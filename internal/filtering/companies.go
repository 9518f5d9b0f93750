package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/state"
)

type companiesFilter struct {
	companies []string
}

// NewExcludedCompanies creates a filter that removes jobs of companies configured in the config.
// Names match case-insensitively as substrings, so "acme" also drops "Acme Corp".
func NewExcludedCompanies() Filter {
	return &companiesFilter{}
}

func (f *companiesFilter) Name() string { return "excluded_companies" }

func (f *companiesFilter) Disable(string) {}

func (f *companiesFilter) IsEnabled() bool { return true }

func (f *companiesFilter) Validate(cfg *Config) error {
	f.companies = nil
	if cfg == nil {
		return nil
	}
	for _, company := range cfg.ExcludeCompanies {
		if c := strings.ToLower(strings.TrimSpace(company)); c != "" {
			f.companies = append(f.companies, c)
		}
	}
	return nil
}

func (f *companiesFilter) Apply(_ context.Context, deps Deps, v *Jobs) (*Jobs, Step, error) {
	initial := v.Len()
	if len(f.companies) == 0 {
		return v, v.step(initial, nil), nil
	}

	removed := v.Exclude(func(job state.JobRef) bool {
		return containsAnyFold(job.Company, f.companies)
	})
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding jobs by companies",
			zap.Strings("excluded_companies", f.companies),
			zap.Strings("excluded_jobs", IDs(removed)),
			zap.Int("jobs_left", v.Len()),
		)
	}

	return v, v.step(initial, removed), nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

// containsAnyFold reports whether s contains any of the lowercase needles.
func containsAnyFold(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, needle := range needles {
		if needle != "" && strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
