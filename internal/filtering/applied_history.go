package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/state"
)

type alreadyViewedFilter struct {
	disabled bool
	reason   string
}

// NewAlreadyViewed creates a filter that removes jobs already present in the run's logs.
func NewAlreadyViewed() Filter {
	return &alreadyViewedFilter{}
}

func (f *alreadyViewedFilter) Name() string { return "already_viewed" }

func (f *alreadyViewedFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *alreadyViewedFilter) IsEnabled() bool { return !f.disabled }

func (f *alreadyViewedFilter) Validate(*Config) error { return nil }

func (f *alreadyViewedFilter) Apply(_ context.Context, deps Deps, v *Jobs) (*Jobs, Step, error) {
	initial := v.Len()
	if deps.Run == nil {
		return v, v.step(initial, nil), nil
	}

	removed := v.Exclude(func(job state.JobRef) bool {
		return deps.Run.Seen(job.ID)
	})
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Debug("excluding jobs already handled in this run",
			zap.Strings("excluded_jobs", IDs(removed)),
			zap.Int("jobs_left", v.Len()),
		)
	}

	return v, v.step(initial, removed), nil
}

func (f *alreadyViewedFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
