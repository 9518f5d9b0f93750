// Package form drives one multi-step application form to submission.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/answer"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/state"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	defaultMaxSteps      = 15
	defaultMaxEmptySteps = 3
	defaultStepDelay     = 800 * time.Millisecond
	defaultFieldDelay    = 150 * time.Millisecond
	recoveryTimeout      = 5 * time.Second
	labelLogLength       = 60
)

// Status is the outcome of a whole form run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result summarizes Run.
type Result struct {
	Status Status
	Steps  int
	Reason string
}

// Config tunes the form loop.
type Config struct {
	// MaxSteps bounds fill/advance iterations per application.
	MaxSteps int `mapstructure:"max-form-steps"`
	// MaxEmptySteps is the number of consecutive steps with neither fields
	// nor an action control after which the form is treated as finished.
	MaxEmptySteps int           `mapstructure:"max-empty-steps"`
	StepDelay     time.Duration `mapstructure:"step-delay"`
	FieldDelay    time.Duration `mapstructure:"field-delay"`
	// AlwaysOverwrite lists label keywords whose fields are refilled even when prefilled.
	AlwaysOverwrite []string `mapstructure:"always-overwrite"`
}

// DefaultConfig returns the stock loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxSteps:        defaultMaxSteps,
		MaxEmptySteps:   defaultMaxEmptySteps,
		StepDelay:       defaultStepDelay,
		FieldDelay:      defaultFieldDelay,
		AlwaysOverwrite: []string{"phone", "mobile", "address", "linkedin", "github", "website", "portfolio", "url", "link"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.MaxEmptySteps <= 0 {
		c.MaxEmptySteps = d.MaxEmptySteps
	}
	if c.StepDelay < 0 {
		c.StepDelay = 0
	}
	if c.FieldDelay < 0 {
		c.FieldDelay = 0
	}
	if c.AlwaysOverwrite == nil {
		c.AlwaysOverwrite = d.AlwaysOverwrite
	}
	return c
}

// Resolver answers a single field question.
type Resolver interface {
	Resolve(ctx context.Context, q ai.Question) string
}

// Filler fills the application form of one job.
type Filler struct {
	page     page.Page
	resolver Resolver
	files    FileFetcher
	profile  state.Profile
	scope    string
	cfg      Config
	logger   *zap.Logger

	// OnProgress is called after every applied field and every advance.
	OnProgress func()
}

// New returns a Filler working inside the scope selector.
func New(p page.Page, resolver Resolver, files FileFetcher, profile state.Profile, scope string, cfg Config, log *zap.Logger) *Filler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filler{
		page:     p,
		resolver: resolver,
		files:    files,
		profile:  profile,
		scope:    scope,
		cfg:      cfg.withDefaults(),
		logger:   log,
	}
}

func (f *Filler) progress() {
	if f.OnProgress != nil {
		f.OnProgress()
	}
}

// Run loops fill and advance until the form is submitted, the step ceiling
// is reached or the page stops presenting anything actionable. It never
// panics and never returns an error: every failure is a failed Result.
func (f *Filler) Run(ctx context.Context, job state.JobRef) (result Result) {
	log := logger.WithFields(f.logger, logger.JobFields(job.ID, job.Title, job.Company)...)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("form filling panicked", zap.String("panic", fmt.Sprint(rec)))
			f.cleanup(ctx)
			result = Result{Status: StatusFailed, Steps: result.Steps, Reason: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	submitted := false
	empty := 0
	lastStep := false

	for step := 1; step <= f.cfg.MaxSteps && !lastStep; step++ {
		result.Steps = step
		stepLog := log.With(logger.StepField(step))

		if err := ctx.Err(); err != nil {
			f.cleanup(ctx)
			return Result{Status: StatusFailed, Steps: step, Reason: err.Error()}
		}

		fields, err := f.FillStep(ctx, f.scope)
		if err != nil {
			stepLog.Warn("fill step failed", zap.Error(err))
			f.cleanup(ctx)
			return Result{Status: StatusFailed, Steps: step, Reason: err.Error()}
		}

		advance := f.AdvanceStep(ctx, f.scope)
		f.progress()
		stepLog.Debug("advanced form", zap.Int("fields", fields), zap.String("status", string(advance.Status)))

		switch advance.Status {
		case StepSubmitted:
			submitted = true
			lastStep = true
			f.dismissConfirmation(ctx, stepLog)
		case StepError:
			if fields == 0 {
				empty++
			} else {
				empty = 0
			}
			if empty >= f.cfg.MaxEmptySteps {
				stepLog.Debug("no fields and no action control, treating as last step", zap.Int("attempts", empty))
				lastStep = true
			}
		default:
			empty = 0
		}

		if !lastStep {
			if err := utils.Pace(ctx, f.cfg.StepDelay); err != nil {
				f.cleanup(ctx)
				return Result{Status: StatusFailed, Steps: step, Reason: err.Error()}
			}
		}
	}

	if submitted {
		log.Info("application submitted", zap.Int("steps", result.Steps))
		return Result{Status: StatusCompleted, Steps: result.Steps}
	}

	reason := "step ceiling reached"
	if lastStep {
		reason = "form stopped presenting fields or actions"
	}
	log.Info("application abandoned", zap.String("reason", reason), zap.Int("steps", result.Steps))
	f.cleanup(ctx)
	return Result{Status: StatusFailed, Steps: result.Steps, Reason: reason}
}

// dismissConfirmation closes the post-submit modal when a dismiss control is present.
func (f *Filler) dismissConfirmation(ctx context.Context, log *zap.Logger) {
	if err := utils.Pace(ctx, f.cfg.StepDelay); err != nil {
		return
	}

	buttons, err := f.page.Buttons(ctx, "")
	if err != nil {
		return
	}
	if button, ok := pick(buttons, ActionDismiss); ok {
		if err := f.page.Click(ctx, button.ID); err != nil {
			log.Debug("dismissing confirmation failed", zap.Error(err))
		}
	}
}

// cleanup closes open dialogs with a context that survives cancellation of ctx.
func (f *Filler) cleanup(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
	defer cancel()

	if err := f.page.CloseDialogs(rctx); err != nil {
		f.logger.Debug("closing dialogs failed", zap.Error(err))
	}
}

// FillStep fills the visible fields of the current step and returns how many
// fields were present. File inputs are handled first.
func (f *Filler) FillStep(ctx context.Context, scope string) (int, error) {
	fields, err := f.page.Fields(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("enumerate fields: %w", err)
	}

	var files, others []page.Field
	radios := make(map[string][]page.Field)
	var groupOrder []string

	for _, field := range fields {
		switch field.Kind {
		case page.KindFile:
			files = append(files, field)
		case page.KindRadio:
			key := field.Group
			if key == "" {
				key = field.ID
			}
			if _, ok := radios[key]; !ok {
				groupOrder = append(groupOrder, key)
			}
			radios[key] = append(radios[key], field)
		default:
			others = append(others, field)
		}
	}

	for _, field := range files {
		if err := f.uploadFile(ctx, field); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return len(fields), err
			}
			f.logger.Warn("file upload failed", zap.String("label", utils.TruncateForLog(field.Label(), labelLogLength)), zap.Error(err))
		}
	}

	for _, field := range others {
		if err := f.fillField(ctx, field); err != nil {
			if ctx.Err() != nil {
				return len(fields), ctx.Err()
			}
			f.logger.Warn("filling field failed", zap.String("label", utils.TruncateForLog(field.Label(), labelLogLength)), zap.Error(err))
		}
	}

	for _, key := range groupOrder {
		if err := f.fillRadioGroup(ctx, radios[key]); err != nil {
			if ctx.Err() != nil {
				return len(fields), ctx.Err()
			}
			f.logger.Warn("filling radio group failed", zap.String("group", key), zap.Error(err))
		}
	}

	return len(fields), nil
}

func (f *Filler) overwrite(label string) bool {
	normalized := answer.Normalize(label)
	for _, keyword := range f.cfg.AlwaysOverwrite {
		if keyword != "" && strings.Contains(normalized, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func (f *Filler) question(label string, kind page.FieldKind, options []string) ai.Question {
	return ai.Question{Label: label, Options: options, Kind: string(kind), Profile: f.profile}
}
