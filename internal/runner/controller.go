// Package runner drives automation runs: the job queue, the per-job state
// machine, quota checks, persistence and the stuck-run watchdog.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/backend"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/metrics"
	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/quota"
	"github.com/spigell/autoapply/internal/site"
	"github.com/spigell/autoapply/internal/state"
)

var (
	ErrNotInitialized = errors.New("run is not initialized")
	ErrAlreadyRunning = errors.New("run is already in progress")
	// ErrHardCeiling is the cancellation cause when a run exceeds its absolute runtime.
	ErrHardCeiling = errors.New("hard ceiling reached")
	// ErrStuck is the cancellation cause of a job abandoned by the watchdog.
	ErrStuck = errors.New("no progress within stuck timeout")
)

const (
	defaultWatchdogInterval      = 15 * time.Second
	defaultStuckTimeout          = 3 * time.Minute
	defaultHardCeiling           = 2 * time.Hour
	defaultMaxWatchdogRecoveries = 5
	defaultMaxPages              = 20
	defaultJobDelay              = 2 * time.Second
	persistTimeout               = 5 * time.Second
	backendTimeout               = 10 * time.Second
)

// Config tunes a Controller.
type Config struct {
	Search site.SearchParams `mapstructure:"search"`
	// JobsToApply is the default target of completed applications; zero means until quota or results run out.
	JobsToApply int `mapstructure:"jobs-to-apply"`
	MaxPages    int `mapstructure:"max-pages"`

	JobDelay              time.Duration `mapstructure:"job-delay"`
	WatchdogInterval      time.Duration `mapstructure:"watchdog-interval"`
	StuckTimeout          time.Duration `mapstructure:"stuck-timeout"`
	HardCeiling           time.Duration `mapstructure:"hard-ceiling"`
	MaxWatchdogRecoveries int           `mapstructure:"max-watchdog-recoveries"`

	// SkipAppliedCheck disables the backend duplicate-application check before each job.
	SkipAppliedCheck bool `mapstructure:"skip-applied-check"`
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.JobDelay < 0 {
		c.JobDelay = 0
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = defaultStuckTimeout
	}
	if c.HardCeiling <= 0 {
		c.HardCeiling = defaultHardCeiling
	}
	if c.MaxWatchdogRecoveries <= 0 {
		c.MaxWatchdogRecoveries = defaultMaxWatchdogRecoveries
	}
	return c
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{JobDelay: defaultJobDelay}.withDefaults()
}

// Backend is the part of the backend API a run consumes.
type Backend interface {
	GetUser(ctx context.Context, userID string) (*backend.User, error)
	GetRole(ctx context.Context, userID string) (*backend.Role, error)
	LogAppliedJob(ctx context.Context, job backend.AppliedJob) error
	IncrementApplications(ctx context.Context, userID string, applicationsUsed int) error
	IsApplied(ctx context.Context, userID, jobID string) (bool, error)
}

// FormRunner fills one application form.
type FormRunner interface {
	Run(ctx context.Context, job state.JobRef) form.Result
}

// FormFactory builds the form runner for one job of run runID. onProgress
// must be called whenever the form makes progress.
type FormFactory func(runID string, profile state.Profile, scope string, onProgress func()) FormRunner

// Deps are the collaborators of a Controller.
type Deps struct {
	Backend Backend
	Store   state.Store
	Adapter site.Adapter
	// Page is used to open search results; optional.
	Page  page.Page
	Forms FormFactory

	Filters      []filtering.Filter
	FilterConfig *filtering.Config
	Gate         *quota.Gate
	Notifier     Notifier
	Metrics      *metrics.Recorder
	Logger       *zap.Logger

	Now      func() time.Time
	NewRunID func() string
}

// Controller owns the run of one browser tab.
type Controller struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	saveMu sync.Mutex

	mu            sync.Mutex
	st            *state.RunState
	running       bool
	stopRequested bool
	stopReason    string
	jobCancel     context.CancelCauseFunc
}

func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Backend == nil:
		return nil, errors.New("backend is required")
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	case deps.Adapter == nil:
		return nil, errors.New("site adapter is required")
	case deps.Forms == nil:
		return nil, errors.New("form factory is required")
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gate == nil {
		deps.Gate = quota.NewGate(quota.DefaultLimits(), deps.Now)
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.FilterConfig == nil {
		deps.FilterConfig = &filtering.Config{}
	}

	return &Controller{cfg: cfg.withDefaults(), deps: deps, log: deps.Logger}, nil
}

func (c *Controller) now() time.Time {
	return c.deps.Now()
}

// Initialize fetches the user's profile and plan and persists a fresh run,
// replacing whatever run was stored before.
func (c *Controller) Initialize(ctx context.Context, userID string) (*state.RunState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	now := c.now()
	st := state.New(c.deps.NewRunID(), userID, c.deps.Adapter.Name(), now)
	st.SetStatus(state.StatusInitializing, "loading profile", now)
	c.st = st
	c.stopRequested = false
	c.stopReason = ""
	c.mu.Unlock()

	log := c.runLogger()
	c.notifyStatus(state.StatusInitializing, "loading profile")

	user, err := c.deps.Backend.GetUser(ctx, userID)
	if err != nil {
		msg := fmt.Sprintf("fetch profile: %v", err)
		c.update(func(st *state.RunState) { st.SetStatus(state.StatusFailed, msg, c.now()) })
		if rerr := c.replace(ctx); rerr != nil {
			log.Warn("persisting failed run", zap.Error(rerr))
		}
		c.notifyStatus(state.StatusFailed, msg)
		return nil, fmt.Errorf("fetch profile of %s: %w", userID, err)
	}

	role, err := c.deps.Backend.GetRole(ctx, userID)
	if err != nil {
		log.Warn("fetching plan limits failed, using profile plan", zap.Error(err))
		role = nil
	}

	c.update(func(st *state.RunState) {
		st.Profile = user.Profile()
		st.Plan = user.PlanState(role)
		st.SubscriptionExpiry = user.SubscriptionExpiry()
		st.IsRunning = true
		st.SetStatus(state.StatusIdle, "initialized", c.now())
	})
	if err := c.replace(ctx); err != nil {
		return nil, err
	}

	snapshot := c.State()
	log.Info("run initialized",
		zap.String("plan", string(snapshot.Plan.Type)),
		zap.Int("applications_used", snapshot.Plan.ApplicationsUsed),
		zap.Int("remaining", c.deps.Gate.Remaining(snapshot)),
	)
	c.notifyStatus(state.StatusIdle, "initialized")
	return snapshot, nil
}

// OpenSearch navigates the tab to the configured search on the run's current page.
func (c *Controller) OpenSearch(ctx context.Context) (string, error) {
	params := c.cfg.Search
	c.mu.Lock()
	if c.st == nil {
		c.mu.Unlock()
		return "", ErrNotInitialized
	}
	params.Page = c.st.CurrentPage
	if params.Keywords == "" && len(c.st.Profile.Preferences.Keywords) > 0 {
		params.Keywords = strings.Join(c.st.Profile.Preferences.Keywords, " ")
	}
	if params.Location == "" {
		params.Location = c.st.Profile.Preferences.Location
	}
	c.mu.Unlock()

	url := c.deps.Adapter.SearchURL(params)
	if c.deps.Page == nil {
		return url, nil
	}
	if err := c.deps.Page.Navigate(ctx, url); err != nil {
		return url, fmt.Errorf("open search: %w", err)
	}
	return url, nil
}

// Stop asks the run to stop. It takes effect between jobs.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.st == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	running := c.running
	c.requestStopLocked("stop requested")
	if !running && !c.st.Status.Finished() {
		c.st.SetStatus(state.StatusStopped, "stop requested", c.now())
	}
	c.mu.Unlock()

	c.persist(ctx)
	if !running {
		c.notifyStatus(state.StatusStopped, "stop requested")
	}
	c.runLogger().Info("stop requested", zap.Bool("in_progress", running))
	return nil
}

// State returns a copy of the current run, or nil before Initialize.
func (c *Controller) State() *state.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Clone()
}

// Running reports whether an automation or form fill is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) requestStopLocked(reason string) {
	if !c.stopRequested {
		c.stopRequested = true
		c.stopReason = reason
	}
	if c.st != nil {
		c.st.IsRunning = false
	}
}

func (c *Controller) requestStop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestStopLocked(reason)
}

func (c *Controller) update(fn func(st *state.RunState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != nil {
		fn(c.st)
	}
}

// touch records progress for the watchdog.
func (c *Controller) touch() {
	c.update(func(st *state.RunState) { st.Touch(c.now()) })
}

func (c *Controller) runLogger() *zap.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return c.log
	}
	return logger.WithFields(c.log, logger.RunFields(c.st.RunID, c.st.UserID, c.st.Site)...)
}

func (c *Controller) emit(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("notifier panicked", zap.Any("panic", rec))
		}
	}()
	c.deps.Notifier.Notify(ev)
}

func (c *Controller) notifyStatus(status state.RunStatus, message string) {
	ev := newEvent(EventStatusUpdate, c.State(), c.now())
	ev.Status = string(status)
	ev.Message = message
	c.emit(ev)
}

// setStatus moves the run to status in memory and tells listeners.
func (c *Controller) setStatus(status state.RunStatus, message string) {
	c.update(func(st *state.RunState) { st.SetStatus(status, message, c.now()) })
	c.notifyStatus(status, message)
}

// replace writes the run over whatever record is stored.
func (c *Controller) replace(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	var version int64
	existing, err := c.deps.Store.Load(ctx)
	switch {
	case err == nil:
		version = existing.Version
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrIncompatibleSchema):
	default:
		return fmt.Errorf("load previous run: %w", err)
	}

	snapshot := c.State()
	snapshot.Version = version
	if err := c.deps.Store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	c.adoptVersion(snapshot)
	return nil
}

// persist saves the run. A version conflict reloads the stored record: a stop
// written by someone else is applied before retrying once, other concurrent
// changes are overwritten.
func (c *Controller) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snapshot := c.State()
	if snapshot == nil {
		return
	}

	err := c.deps.Store.Save(ctx, snapshot)
	if errors.Is(err, state.ErrVersionConflict) {
		snapshot, err = c.resolveConflict(ctx, snapshot)
	}
	if err != nil {
		c.runLogger().Warn("persisting run state failed", zap.Error(err))
		return
	}
	c.adoptVersion(snapshot)
}

func (c *Controller) resolveConflict(ctx context.Context, snapshot *state.RunState) (*state.RunState, error) {
	stored, err := c.deps.Store.Load(ctx)
	if err != nil {
		return snapshot, fmt.Errorf("reload after version conflict: %w", err)
	}

	if stored.RunID == snapshot.RunID && !stored.IsRunning && snapshot.IsRunning {
		c.requestStop("stopped externally")
	}
	c.runLogger().Warn("run state changed concurrently",
		zap.Int64("stored_version", stored.Version),
		zap.Int64("local_version", snapshot.Version),
		zap.String("stored_run_id", stored.RunID),
	)

	retry := c.State()
	retry.Version = stored.Version
	if err := c.deps.Store.Save(ctx, retry); err != nil {
		return retry, err
	}
	return retry, nil
}

func (c *Controller) adoptVersion(saved *state.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != nil && c.st.RunID == saved.RunID {
		c.st.Version = saved.Version
	}
}

// checkExternalStop applies a stop persisted by another process.
func (c *Controller) checkExternalStop(ctx context.Context) {
	stored, err := c.deps.Store.Load(ctx)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != nil && stored.RunID == c.st.RunID && !stored.IsRunning && c.st.IsRunning {
		c.requestStopLocked("stopped externally")
	}
}

func (c *Controller) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), backendTimeout)
}
