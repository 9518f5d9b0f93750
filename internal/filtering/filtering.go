package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/state"
)

// Filter represents a single filtering step applied to a results page.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, jobs *Jobs) (*Jobs, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
	// Run is the current run; read only.
	Run *state.RunState
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
	Removed []state.JobRef
}

// Drop is a job removed by a named filter.
type Drop struct {
	Job    state.JobRef
	Filter string
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	ExcludeCompanies    []string `mapstructure:"exclude-companies"`
	ExcludeFile         string   `mapstructure:"exclude-file"`
	TitleMustContain    []string `mapstructure:"title-must-contain"`
	TitleMustNotContain []string `mapstructure:"title-must-not-contain"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Default returns the stock pipeline in execution order.
func Default() []Filter {
	return []Filter{
		NewAlreadyViewed(),
		NewExcludedCompanies(),
		NewExcludeFile(),
		NewTitleKeywords(),
	}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially. It returns the kept jobs in
// their original order and every dropped job with the filter that dropped it.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, jobs []state.JobRef) ([]state.JobRef, []Drop, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	v := &Jobs{Items: append([]state.JobRef(nil), jobs...)}
	var dropped []Drop
	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil && info.Dropped > 0 {
			deps.Logger.Info("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		for _, job := range info.Removed {
			dropped = append(dropped, Drop{Job: job, Filter: step.Name()})
		}
		v = next
	}

	return v.Items, dropped, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// Jobs is the candidate queue of one results page.
type Jobs struct {
	Items []state.JobRef
}

func (j *Jobs) Len() int {
	return len(j.Items)
}

// Exclude removes the jobs matching match, preserving the order of the rest,
// and returns the removed jobs.
func (j *Jobs) Exclude(match func(state.JobRef) bool) []state.JobRef {
	var removed []state.JobRef
	kept := j.Items[:0]
	for _, job := range j.Items {
		if match(job) {
			removed = append(removed, job)
			continue
		}
		kept = append(kept, job)
	}
	j.Items = kept
	return removed
}

func (j *Jobs) step(initial int, removed []state.JobRef) Step {
	return Step{Initial: initial, Dropped: len(removed), Left: j.Len(), Removed: removed}
}

// IDs returns the ids of jobs in order.
func IDs(jobs []state.JobRef) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	return ids
}
