// Package site adapts job boards to the generic application engine.
package site

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/state"
)

var (
	// ErrUnknownSite is returned by New for an unregistered board name.
	ErrUnknownSite = errors.New("unknown site")
	// ErrNoForm is returned when clicking the apply control did not open a form.
	ErrNoForm = errors.New("application form did not open")
)

const defaultElementWait = 8 * time.Second

// SearchParams are the user inputs of a job search.
type SearchParams struct {
	Keywords string `mapstructure:"keywords"`
	Location string `mapstructure:"location"`
	// Page is 1-based. Zero means the first page.
	Page int `mapstructure:"page"`
	// EasyApplyOnly restricts results to in-page applications where the board supports it.
	EasyApplyOnly bool `mapstructure:"easy-apply-only"`
}

// Affordance is the apply control found on an opened job.
type Affordance struct {
	Selector string
	Text     string
	// External is set when the control was found by an off-site selector.
	External bool
}

// Adapter is the board-specific capability the run controller drives.
type Adapter interface {
	Name() string
	SearchURL(params SearchParams) string
	// EnumerateJobs returns the job cards visible on the current results page in page order.
	EnumerateJobs(ctx context.Context) ([]state.JobRef, error)
	OpenJob(ctx context.Context, job state.JobRef) error
	DetectApplyAffordance(ctx context.Context) (Affordance, bool, error)
	IsExternalApplication(ctx context.Context, aff Affordance) bool
	// StartApplication clicks the affordance and waits for the form.
	StartApplication(ctx context.Context, aff Affordance) error
	// FormScope is the selector enclosing the application form.
	FormScope() string
	// NextPage moves to the next results page. It returns false when there is none.
	NextPage(ctx context.Context) (bool, error)
	ReturnToList(ctx context.Context) error
}

// Options tune every adapter.
type Options struct {
	ElementWait time.Duration `mapstructure:"element-wait"`
}

var registry = map[string]Selectors{
	"linkedin":  LinkedIn,
	"indeed":    Indeed,
	"glassdoor": Glassdoor,
}

// Names lists the registered boards.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the adapter registered under name.
func New(name string, p page.Page, opts Options, log *zap.Logger) (Adapter, error) {
	selectors, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSite, name, strings.Join(Names(), ", "))
	}
	return NewBoard(selectors, p, opts, log), nil
}
